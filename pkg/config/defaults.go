package config

import "github.com/codeready-toolchain/agentctl/pkg/plugin"

// applyDefaults fills in zero-valued fields with agentctl's documented
// defaults (§6), mirroring the teacher's "defaults.go" separation between
// parsed-as-written values and run-ready values.
func applyDefaults(f *yamlFile) {
	if f.IntervalMs == 0 {
		f.IntervalMs = 30000
	}
	if f.PRScanEvery == 0 {
		f.PRScanEvery = 10
	}

	for id, p := range f.Projects {
		applyAutomationDefaults(&p.Automation)
		f.Projects[id] = p
	}
}

func applyAutomationDefaults(a *automationYAML) {
	qp := &a.QueuePickup
	if qp.IntervalSec == 0 {
		qp.IntervalSec = 60
	}
	if qp.PickupStateName == "" {
		qp.PickupStateName = "Todo"
	}
	if qp.RequireAoMetaQueued == nil {
		t := true
		qp.RequireAoMetaQueued = &t
	}
	if qp.MaxActiveSessions == 0 {
		qp.MaxActiveSessions = 8
	}
	if qp.MaxSpawnPerCycle == 0 {
		qp.MaxSpawnPerCycle = 4
	}

	mg := &a.MergeGate
	if mg.Enabled == nil {
		t := true
		mg.Enabled = &t
	}
	if mg.Method == "" {
		mg.Method = string(plugin.MergeSquash)
	}
	if mg.RetryCooldownSec == 0 {
		mg.RetryCooldownSec = 300
	}

	cg := &a.CompletionGate
	if cg.Enabled == nil {
		t := true
		cg.Enabled = &t
	}
	if cg.EvidencePattern == "" {
		cg.EvidencePattern = `AC Evidence:|검증 근거:`
	}

	sr := &a.StuckRecovery
	if sr.Enabled == nil {
		t := true
		sr.Enabled = &t
	}
	if sr.ThresholdSec == 0 {
		sr.ThresholdSec = 600
	}
	if sr.CooldownSec == 0 {
		sr.CooldownSec = 300
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
