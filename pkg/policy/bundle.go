// Package policy implements the deterministic policy validator: closed
// action/provider vocabularies, a risk-tier table, and the PASS/ESCALATE/
// REJECT decision over an IR. No network, no LLM, no hidden state — the
// validator is a pure function over the IR and the bundle it was built
// with.
package policy

// Bundle is a versioned policy table: the closed vocabularies, the
// risk-tier rules, and optional resource-pattern overrides. Bundles are
// data, not code, so policy changes ship without redeploys.
type Bundle struct {
	Version           string     `yaml:"version" json:"version"`
	Name              string     `yaml:"name" json:"name"`
	Actions           []string   `yaml:"actions" json:"actions"`
	Providers         []string   `yaml:"providers" json:"providers"`
	Tiers             []TierRule `yaml:"tiers" json:"tiers"`
	Overrides         []Override `yaml:"overrides,omitempty" json:"overrides,omitempty"`
	ApprovalThreshold int        `yaml:"approval_threshold" json:"approval_threshold"`
}

// TierRule assigns a risk tier to an action, optionally refined per
// constraints["env"] value. Tiers: 0 read-only, 1 non-production write,
// 2 production write, 3 destructive.
type TierRule struct {
	Action  string         `yaml:"action" json:"action"`
	Default int            `yaml:"default" json:"default"`
	ByEnv   map[string]int `yaml:"env,omitempty" json:"env,omitempty"`
}

// Override is a CEL expression over (action, resource, env) that raises a
// step's tier to at least Tier when it evaluates true. Overrides can only
// escalate, never lower, a tier.
type Override struct {
	ID         string `yaml:"id" json:"id"`
	Expression string `yaml:"expression" json:"expression"`
	Tier       int    `yaml:"tier" json:"tier"`
}

// DefaultBundle returns the built-in policy table for the platform's
// action vocabulary. It is the bundle governd runs with when no external
// bundle file is configured.
func DefaultBundle() *Bundle {
	return &Bundle{
		Version: "1.0.0",
		Name:    "brain-default",
		Actions: []string{
			"content.generate",
			"content.translate",
			"seo.analyze",
			"analytics.report.read",
			"webgenesis.site.create",
			"webgenesis.site.update",
			"webgenesis.page.write",
			"deploy.website",
			"deploy.rollback",
			"dns.record.create",
			"dns.record.update",
			"dns.zone.delete",
			"domain.register",
			"email.campaign.send",
			"social.post.publish",
			"storage.object.write",
			"storage.bucket.delete",
			"db.migration.apply",
			"billing.subscription.update",
			"mission.worker.dispatch",
		},
		Providers: []string{
			"cloudflare",
			"hetzner",
			"vercel",
			"netlify",
			"aws",
			"openai",
			"stripe",
			"sendgrid",
			"github",
			"google",
			"plesk",
			"internal",
		},
		Tiers: []TierRule{
			{Action: "content.generate", Default: 0},
			{Action: "content.translate", Default: 0},
			{Action: "seo.analyze", Default: 0},
			{Action: "analytics.report.read", Default: 0},
			{Action: "webgenesis.site.create", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "webgenesis.site.update", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "webgenesis.page.write", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "deploy.website", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "deploy.rollback", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "dns.record.create", Default: 2},
			{Action: "dns.record.update", Default: 2},
			{Action: "dns.zone.delete", Default: 3},
			{Action: "domain.register", Default: 2},
			{Action: "email.campaign.send", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "social.post.publish", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "storage.object.write", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "storage.bucket.delete", Default: 3},
			{Action: "db.migration.apply", Default: 1, ByEnv: map[string]int{"production": 2}},
			{Action: "billing.subscription.update", Default: 2},
			{Action: "mission.worker.dispatch", Default: 1},
		},
		ApprovalThreshold: 2,
	}
}
