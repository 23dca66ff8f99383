package rule_test

import (
	"testing"

	"github.com/yeisme/bucketdrain/pkg/rule"
)

type workerSettings struct {
	Workers   int    `rule:"min=1,max=256"`
	BatchSize int    `rule:"min=1"`
	Tier      string `rule:"oneof=Expedited Standard Bulk"`
}

func TestValidateStruct(t *testing.T) {
	valid := workerSettings{Workers: 8, BatchSize: 64, Tier: "Standard"}
	if err := rule.ValidateStruct(&valid); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	invalid := workerSettings{Workers: 0, BatchSize: 64, Tier: "Standard"}
	if err := rule.ValidateStruct(&invalid); err == nil {
		t.Error("expected error for Workers=0")
	}

	badTier := workerSettings{Workers: 8, BatchSize: 64, Tier: "Instant"}
	if err := rule.ValidateStruct(&badTier); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestValidateVar(t *testing.T) {
	if err := rule.ValidateVar(5, "min=1,max=10"); err != nil {
		t.Errorf("5 should satisfy min=1,max=10: %v", err)
	}

	if err := rule.ValidateVar(0, "min=1"); err == nil {
		t.Error("expected error for 0 with min=1")
	}
}
