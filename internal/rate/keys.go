package rate

type keys struct {
	prefix string
}

func (k keys) with(kind, id string) string {
	if k.prefix == "" {
		return kind + ":" + id
	}
	return k.prefix + ":" + kind + ":" + id
}

func (k keys) login(identifier string) string { return k.with("al", identifier) }

func (k keys) loginIP(ip string) string { return k.with("ali", ip) }

func (k keys) otpRequest(identifier string) string { return k.with("ao", identifier) }
