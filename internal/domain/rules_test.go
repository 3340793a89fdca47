package domain

import "testing"

func testRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(
		[]string{"jammy", "noble"},
		[]Rule{
			{Codename: "jammy", Pocket: "main", Patterns: []string{"master", "main"}},
			{Codename: "jammy", Pocket: "proposed", Patterns: []string{"staging*"}},
			{Codename: "noble", Pocket: "main", Patterns: []string{"noble"}},
			{Pocket: "proposed", Patterns: []string{"proposed_*"}},
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rs
}

func TestMatch_MasterBindsMainForJammyOnly(t *testing.T) {
	rs := testRules(t)

	refs := rs.Match("master")
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref, got %d: %v", len(refs), refs)
	}
	if refs[0] != (PocketRef{Codename: "jammy", Pocket: "main"}) {
		t.Errorf("unexpected ref: %+v", refs[0])
	}
}

func TestMatch_FirstRulePerCodenameWins(t *testing.T) {
	rs, err := NewRuleSet(
		[]string{"jammy"},
		[]Rule{
			{Codename: "jammy", Pocket: "main", Patterns: []string{"master"}},
			{Codename: "jammy", Pocket: "proposed", Patterns: []string{"mas*"}},
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	refs := rs.Match("master")
	if len(refs) != 1 || refs[0].Pocket != "main" {
		t.Errorf("expected single main binding, got %v", refs)
	}
}

func TestMatch_WildcardRuleBindsEveryCodename(t *testing.T) {
	rs := testRules(t)

	refs := rs.Match("proposed_v2")
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d: %v", len(refs), refs)
	}
	for i, codename := range []string{"jammy", "noble"} {
		if refs[i].Codename != codename || refs[i].Pocket != "proposed" {
			t.Errorf("ref %d: got %+v", i, refs[i])
		}
	}
}

func TestMatch_PriorityFollowsPatternOrder(t *testing.T) {
	rs := testRules(t)

	if refs := rs.Match("master"); len(refs) != 1 || refs[0].Priority != 0 {
		t.Errorf("master should match at priority 0: %+v", refs)
	}
	if refs := rs.Match("main"); len(refs) != 1 || refs[0].Priority != 1 {
		t.Errorf("main should match at priority 1: %+v", refs)
	}
}

func TestMatch_UnmatchedBranchYieldsNothing(t *testing.T) {
	rs := testRules(t)

	if refs := rs.Match("feature-xyz"); refs != nil {
		t.Errorf("expected no refs, got %v", refs)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	rs := testRules(t)

	first := rs.Match("staging2")
	for i := 0; i < 10; i++ {
		again := rs.Match("staging2")
		if len(again) != len(first) {
			t.Fatalf("match count changed: %v vs %v", first, again)
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("match order changed: %v vs %v", first, again)
			}
		}
	}
}

func TestNewRuleSet_RejectsBadConfig(t *testing.T) {
	if _, err := NewRuleSet(nil, nil); err == nil {
		t.Error("expected error for empty codenames")
	}
	if _, err := NewRuleSet([]string{"jammy"}, []Rule{
		{Codename: "focal", Pocket: "main", Patterns: []string{"master"}},
	}); err == nil {
		t.Error("expected error for unknown codename")
	}
	if _, err := NewRuleSet([]string{"jammy"}, []Rule{
		{Codename: "jammy", Pocket: "main", Patterns: []string{"[bad"}},
	}); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if _, err := NewRuleSet([]string{"jammy"}, []Rule{
		{Codename: "jammy", Pocket: "main"},
	}); err == nil {
		t.Error("expected error for rule without patterns")
	}
}
