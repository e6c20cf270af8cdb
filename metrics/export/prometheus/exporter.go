package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/metrics/export/internaldefs"
)

const auditDroppedName = "cauth_audit_dropped_total"

// Source is anything that can report a metrics snapshot. *cauth.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() cauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders a Source on demand.
type Exporter struct {
	source Source
}

// NewExporter reads from engine.
func NewExporter(engine *cauth.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource reads from any Source.
func NewExporterFromSource(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render over HTTP.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled and
// no audit events were dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeHeader(&b, def.Name, def.Help, "counter")
		writeSample(&b, def.Name, snap.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		writeHeader(&b, def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			writeSample(&b, def.Name+`_bucket{le="`+le+`"}`, cum[i])
		}
		writeSample(&b, def.Name+"_count", cum[len(cum)-1])
		// Snapshots carry bucket counts only.
		writeSample(&b, def.Name+"_sum", 0)
	}

	writeHeader(&b, auditDroppedName, "Audit events dropped because the dispatcher queue was full.", "counter")
	writeSample(&b, auditDroppedName, dropped)

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, series string, v uint64) {
	b.WriteString(series)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(v, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}
