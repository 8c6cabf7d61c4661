package services

import (
	"testing"

	"deskflow/internal/models"
)

func sampleSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"priority": "high",
		"status":   "open",
		"category": "technical",
		"title":    "database connection refused",
		"tags":     []string{"vip", "backend"},
		"score":    float64(7),
		"customFields": map[string]interface{}{
			"tier":  "gold",
			"seats": float64(25),
		},
	}
}

func TestEvaluateConditions_EmptyAlwaysTrue(t *testing.T) {
	// evaluate(∅, S) == true，对任意快照
	if !EvaluateConditions(nil, sampleSnapshot()) {
		t.Error("empty conditions should match any snapshot")
	}
	if !EvaluateConditions([]models.Condition{}, map[string]interface{}{}) {
		t.Error("empty conditions should match empty snapshot")
	}
}

func TestEvaluateConditions_Operators(t *testing.T) {
	snapshot := sampleSnapshot()

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"equals match", models.Condition{Field: "priority", Operator: models.OpEquals, Value: strVal("high")}, true},
		{"equals mismatch", models.Condition{Field: "priority", Operator: models.OpEquals, Value: strVal("low")}, false},
		{"not_equals mismatch", models.Condition{Field: "priority", Operator: models.OpNotEquals, Value: strVal("low")}, true},
		{"not_equals match", models.Condition{Field: "priority", Operator: models.OpNotEquals, Value: strVal("high")}, false},
		{"greater_than", models.Condition{Field: "score", Operator: models.OpGreaterThan, Value: numVal(5)}, true},
		{"greater_than equal value", models.Condition{Field: "score", Operator: models.OpGreaterThan, Value: numVal(7)}, false},
		{"greater_or_equal boundary", models.Condition{Field: "score", Operator: models.OpGreaterOrEqual, Value: numVal(7)}, true},
		{"less_than", models.Condition{Field: "score", Operator: models.OpLessThan, Value: numVal(10)}, true},
		{"less_or_equal boundary", models.Condition{Field: "score", Operator: models.OpLessOrEqual, Value: numVal(7)}, true},
		// 非数值操作数永不抛错，直接判 false
		{"numeric compare on string field", models.Condition{Field: "priority", Operator: models.OpGreaterThan, Value: numVal(1)}, false},
		{"in match", models.Condition{Field: "priority", Operator: models.OpIn, Value: arrVal("high", "urgent")}, true},
		{"in mismatch", models.Condition{Field: "priority", Operator: models.OpIn, Value: arrVal("low", "normal")}, false},
		{"contains substring", models.Condition{Field: "title", Operator: models.OpContains, Value: strVal("connection")}, true},
		{"contains case sensitive", models.Condition{Field: "title", Operator: models.OpContains, Value: strVal("Connection")}, false},
		{"contains tag member", models.Condition{Field: "tags", Operator: models.OpContains, Value: strVal("vip")}, true},
		{"contains tag absent", models.Condition{Field: "tags", Operator: models.OpContains, Value: strVal("billing")}, false},
		// 数组字段同样是子串语义，不是整串相等
		{"contains tag substring", models.Condition{Field: "tags", Operator: models.OpContains, Value: strVal("back")}, true},
		{"contains tag substring case sensitive", models.Condition{Field: "tags", Operator: models.OpContains, Value: strVal("Back")}, false},
		// between 两端闭区间
		{"between inside", models.Condition{Field: "score", Operator: models.OpBetween, Value: pairVal(1, 10)}, true},
		{"between low bound", models.Condition{Field: "score", Operator: models.OpBetween, Value: pairVal(7, 10)}, true},
		{"between high bound", models.Condition{Field: "score", Operator: models.OpBetween, Value: pairVal(1, 7)}, true},
		{"between outside", models.Condition{Field: "score", Operator: models.OpBetween, Value: pairVal(8, 10)}, false},
		{"nested custom field", models.Condition{Field: "customFields.tier", Operator: models.OpEquals, Value: strVal("gold")}, true},
		{"nested numeric field", models.Condition{Field: "customFields.seats", Operator: models.OpBetween, Value: pairVal(20, 30)}, true},
		// 未知操作符容忍为 false，不报错
		{"unknown operator", models.Condition{Field: "priority", Operator: "matches", Value: strVal("high")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateConditions([]models.Condition{tt.cond}, snapshot)
			if got != tt.want {
				t.Errorf("evaluate(%s %s) = %v, want %v", tt.cond.Field, tt.cond.Operator, got, tt.want)
			}
		})
	}
}

func TestEvaluateConditions_EqualsComplement(t *testing.T) {
	// 对任意定型值，equals 与 not_equals 互补
	snapshot := sampleSnapshot()
	values := []models.ConditionValue{
		strVal("high"), strVal("nope"), numVal(7), numVal(0),
	}
	fields := []string{"priority", "score", "status"}
	for _, field := range fields {
		for _, val := range values {
			eq := EvaluateConditions([]models.Condition{{Field: field, Operator: models.OpEquals, Value: val}}, snapshot)
			neq := EvaluateConditions([]models.Condition{{Field: field, Operator: models.OpNotEquals, Value: val}}, snapshot)
			if eq == neq {
				t.Errorf("field %s: equals and not_equals both %v", field, eq)
			}
		}
	}
}

func TestEvaluateConditions_MissingField(t *testing.T) {
	// 缺失字段视为 null：只有 not_equals 命中
	snapshot := sampleSnapshot()

	ops := []string{
		models.OpEquals, models.OpGreaterThan, models.OpGreaterOrEqual,
		models.OpLessThan, models.OpLessOrEqual, models.OpIn,
		models.OpContains, models.OpBetween,
	}
	for _, op := range ops {
		cond := models.Condition{Field: "nonexistent", Operator: op, Value: numVal(1)}
		if EvaluateConditions([]models.Condition{cond}, snapshot) {
			t.Errorf("operator %s should fail on missing field", op)
		}
	}

	neq := models.Condition{Field: "nonexistent", Operator: models.OpNotEquals, Value: strVal("anything")}
	if !EvaluateConditions([]models.Condition{neq}, snapshot) {
		t.Error("not_equals should match a missing field")
	}
}

func TestEvaluateConditions_AndSemantics(t *testing.T) {
	snapshot := sampleSnapshot()
	conds := []models.Condition{
		{Field: "priority", Operator: models.OpEquals, Value: strVal("high")},
		{Field: "status", Operator: models.OpEquals, Value: strVal("open")},
	}
	if !EvaluateConditions(conds, snapshot) {
		t.Error("all conditions true should match")
	}

	conds[1].Value = strVal("closed")
	if EvaluateConditions(conds, snapshot) {
		t.Error("one false condition should fail the whole rule")
	}
}

func TestEvaluateConditions_ContainsOnTagPrefix(t *testing.T) {
	// contains 对数组字段也是字符串化后的子串匹配：
	// 标签 "vip-customer" 能被 "vip" 命中
	snapshot := map[string]interface{}{
		"tags": []string{"vip-customer"},
	}
	cond := models.Condition{Field: "tags", Operator: models.OpContains, Value: strVal("vip")}
	if !EvaluateConditions([]models.Condition{cond}, snapshot) {
		t.Error("substring of a tag should match")
	}

	cond.Value = strVal("vip-customer-gold")
	if EvaluateConditions([]models.Condition{cond}, snapshot) {
		t.Error("longer needle than any tag should not match")
	}
}

func TestTicketSnapshot(t *testing.T) {
	agentID := uint(42)
	ticket := &models.Ticket{
		ID:              9,
		TenantID:        1,
		Title:           "refund request",
		Priority:        "urgent",
		Status:          "open",
		Tags:            `["vip"]`,
		CustomFields:    `{"region":"emea"}`,
		AssignedAgentID: &agentID,
	}
	snapshot := TicketSnapshot(ticket)

	if snapshot["priority"] != "urgent" {
		t.Errorf("priority = %v", snapshot["priority"])
	}
	if snapshot["assignedAgentId"] != float64(42) {
		t.Errorf("assignedAgentId = %v", snapshot["assignedAgentId"])
	}
	cond := models.Condition{Field: "customFields.region", Operator: models.OpEquals, Value: strVal("emea")}
	if !EvaluateConditions([]models.Condition{cond}, snapshot) {
		t.Error("custom field should resolve through dot path")
	}
}
