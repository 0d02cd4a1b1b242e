package models

import "time"

// AlarmConfig holds the alerting endpoint configuration.
type AlarmConfig struct {
	URL      string // base URL or host[:port]; empty disables HTTP alerting
	API      string // request path
	Cluster  string
	Group    string
	RuleName string
	Severity string
	Timeout  time.Duration
}

// Incident is the payload of a single alert.
type Incident struct {
	Status      string            `json:"status"`
	Category    string            `json:"cate"`
	Cluster     string            `json:"cluster"`
	Group       string            `json:"group"`
	RuleName    string            `json:"rule_name"`
	RuleNote    string            `json:"rule_note"`
	Severity    string            `json:"severity"`
	Tags        map[string]string `json:"tags"`
	RuleID      int               `json:"rule_id"`
	Callbacks   []string          `json:"callbacks"`
	Annotations map[string]string `json:"annotations"`
	Fingerprint string            `json:"fingerprint"`
}
