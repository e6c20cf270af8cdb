package cauth

// RouteDeps is handed to every route constructor.
type RouteDeps struct {
	Engine *Engine
}

// GuardDeps is handed to the guard constructor. Roles may be empty, in
// which case any configured role is admitted.
type GuardDeps struct {
	Engine *Engine
	Roles  []string
}

// RoutingContract turns engine operations into framework handlers of type
// H. The engine never imports a web framework; adapters implement this.
type RoutingContract[H any] interface {
	Register(RouteDeps) H
	Login(RouteDeps) H
	Logout(RouteDeps) H
	Refresh(RouteDeps) H
	ChangePassword(deps RouteDeps, accountID string) H
	Guard(GuardDeps) H
}

// OtpRoutingContract is implemented by adapters that also serve OTP routes.
type OtpRoutingContract[H any] interface {
	RequestOtp(RouteDeps) H
	LoginWithOtp(RouteDeps) H
	VerifyOtp(RouteDeps) H
}

// Router binds an engine to a routing contract.
type Router[H any] struct {
	engine   *Engine
	contract RoutingContract[H]
	otp      OtpRoutingContract[H]
}

// NewRouter fails when engine or contract is nil.
func NewRouter[H any](engine *Engine, contract RoutingContract[H]) (*Router[H], error) {
	if engine == nil {
		return nil, ErrEngineNotReady
	}
	if contract == nil {
		return nil, ErrRouterContract
	}
	r := &Router[H]{engine: engine, contract: contract}
	if o, ok := contract.(OtpRoutingContract[H]); ok {
		r.otp = o
	}
	return r, nil
}

func (r *Router[H]) deps() RouteDeps { return RouteDeps{Engine: r.engine} }

func (r *Router[H]) Register() H { return r.contract.Register(r.deps()) }
func (r *Router[H]) Login() H    { return r.contract.Login(r.deps()) }
func (r *Router[H]) Logout() H   { return r.contract.Logout(r.deps()) }
func (r *Router[H]) Refresh() H  { return r.contract.Refresh(r.deps()) }

// ChangePassword builds the handler for one account. Adapters that resolve
// the account per request accept an empty id.
func (r *Router[H]) ChangePassword(accountID string) H {
	return r.contract.ChangePassword(r.deps(), accountID)
}

// Guard builds a guard admitting roles, or any configured role when none
// are given.
func (r *Router[H]) Guard(roles ...string) H {
	return r.contract.Guard(GuardDeps{Engine: r.engine, Roles: append([]string(nil), roles...)})
}

// SupportsOtp reports whether the contract serves OTP routes.
func (r *Router[H]) SupportsOtp() bool { return r.otp != nil }

func (r *Router[H]) RequestOtp() (H, error) {
	var zero H
	if r.otp == nil {
		return zero, ErrOTPRoutesAbsent
	}
	return r.otp.RequestOtp(r.deps()), nil
}

func (r *Router[H]) LoginWithOtp() (H, error) {
	var zero H
	if r.otp == nil {
		return zero, ErrOTPRoutesAbsent
	}
	return r.otp.LoginWithOtp(r.deps()), nil
}

func (r *Router[H]) VerifyOtp() (H, error) {
	var zero H
	if r.otp == nil {
		return zero, ErrOTPRoutesAbsent
	}
	return r.otp.VerifyOtp(r.deps()), nil
}
