package config

import (
	"fmt"
	"strings"

	"tally/internal/coord"
)

// Issue captures a validation problem with a config field.
type Issue struct {
	Field   string
	Message string
}

// ValidationError aggregates config validation issues.
type ValidationError struct {
	Issues []Issue
}

// Error renders validation errors as a multi-line string.
func (err *ValidationError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return "config validation failed"
	}
	lines := make([]string, 0, len(err.Issues))
	for _, issue := range err.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return strings.Join(lines, "\n")
}

// issueAdder adds a validation issue to a shared collector.
type issueAdder func(field, message string)

// issueCollector accumulates validation issues.
type issueCollector struct {
	issues []Issue
}

// add records a new validation issue.
func (c *issueCollector) add(field, message string) {
	c.issues = append(c.issues, Issue{Field: field, Message: message})
}

// result returns a ValidationError when issues are present.
func (c *issueCollector) result() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: c.issues}
}

// Validate checks structural rules. Malformed category entries are not
// reported here; bootstrap logs and skips them.
func Validate(cfg *Config) error {
	c := &issueCollector{}
	validateCoordination(cfg.Coordination, c.add)
	validateCounters(cfg.Counters, c.add)
	validateLimits(cfg.Limits, c.add)
	validateLedger(cfg.Counters.Store, cfg.Ledger, c.add)
	return c.result()
}

// validateCoordination checks the backend selection.
func validateCoordination(cfg Coordination, add issueAdder) {
	switch cfg.Backend {
	case BackendZooKeeper:
		if len(cfg.Servers) == 0 {
			add("coordination.servers", "is required when backend is zookeeper")
		}
	case BackendMemory:
	default:
		add("coordination.backend", "must be one of zookeeper, memory")
	}
}

// validateCounters checks counter paths and pipeline settings.
func validateCounters(cfg Counters, add issueAdder) {
	if err := coord.ValidatePath(cfg.Root); err != nil {
		add("counters.root", err.Error())
	}
	if strings.Contains(cfg.NodePrefix, "/") {
		add("counters.node_prefix", "must not contain /")
	}
	if cfg.HandleCacheSize < 0 {
		add("counters.handle_cache_size", "must be >= 0")
	}
	if cfg.Backoff.Max < cfg.Backoff.Initial {
		add("counters.backoff.max", "must be >= counters.backoff.initial")
	}
	switch cfg.Store {
	case StoreCoordination, StoreLedger:
	default:
		add("counters.store", "must be one of coordination, ledger")
	}
}

// validateLimits checks the limit namespace.
func validateLimits(cfg Limits, add issueAdder) {
	if err := coord.ValidatePath(cfg.Root); err != nil {
		add("limits.root", err.Error())
	}
}

// validateLedger requires addresses only when the ledger store is selected.
func validateLedger(store string, cfg Ledger, add issueAdder) {
	if store != StoreLedger {
		return
	}
	if len(cfg.Addresses) == 0 {
		add("ledger.addresses", "is required when counters.store is ledger")
	}
}
