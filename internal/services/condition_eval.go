package services

import (
	"fmt"
	"strconv"
	"strings"

	"deskflow/internal/models"
)

// TicketSnapshot 构建条件评估用的工单快照。
// 一次引擎调用只取一次快照，后续规则共享同一份，即使前面规则已改写了库中记录。
func TicketSnapshot(t *models.Ticket) map[string]interface{} {
	snapshot := map[string]interface{}{
		"id":          float64(t.ID),
		"tenantId":    float64(t.TenantID),
		"title":       t.Title,
		"description": t.Description,
		"customerId":  float64(t.CustomerID),
		"category":    t.Category,
		"priority":    t.Priority,
		"status":      t.Status,
		"source":      t.Source,
		"tags":        t.TagList(),
	}
	if t.AssignedAgentID != nil {
		snapshot["assignedAgentId"] = float64(*t.AssignedAgentID)
	}
	if fields := t.CustomFieldMap(); fields != nil {
		snapshot["customFields"] = fields
	}
	return snapshot
}

// EvaluateConditions 纯谓词：规则内条件全部 AND；空条件恒为真。
// 评估阶段从不报错，未知操作符判 false，容忍校验器与评估器之间的漂移。
func EvaluateConditions(conds []models.Condition, snapshot map[string]interface{}) bool {
	for _, cond := range conds {
		if !evaluateCondition(cond, snapshot) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond models.Condition, snapshot map[string]interface{}) bool {
	val, found := resolveField(snapshot, cond.Field)

	// 缺失字段视为 null：除 not_equals 外所有操作符均不匹配
	if !found || val == nil {
		return cond.Operator == models.OpNotEquals
	}

	switch cond.Operator {
	case models.OpEquals:
		return valueEquals(val, cond.Value)
	case models.OpNotEquals:
		return !valueEquals(val, cond.Value)
	case models.OpGreaterThan, models.OpGreaterOrEqual, models.OpLessThan, models.OpLessOrEqual:
		num, ok := asNumber(val)
		if !ok || cond.Value.Kind != models.ValueNumber {
			return false
		}
		switch cond.Operator {
		case models.OpGreaterThan:
			return num > cond.Value.Num
		case models.OpGreaterOrEqual:
			return num >= cond.Value.Num
		case models.OpLessThan:
			return num < cond.Value.Num
		default:
			return num <= cond.Value.Num
		}
	case models.OpIn:
		needle := asString(val)
		for _, member := range cond.Value.Members() {
			if needle == member {
				return true
			}
		}
		return false
	case models.OpContains:
		if cond.Value.Kind != models.ValueString {
			return false
		}
		// 统一子串语义（区分大小写）：数组字段对每个成员做子串判断
		if items, ok := asStringSlice(val); ok {
			for _, item := range items {
				if strings.Contains(item, cond.Value.Str) {
					return true
				}
			}
			return false
		}
		return strings.Contains(asString(val), cond.Value.Str)
	case models.OpBetween:
		num, ok := asNumber(val)
		if !ok || cond.Value.Kind != models.ValueNumberPair {
			return false
		}
		return num >= cond.Value.Pair[0] && num <= cond.Value.Pair[1]
	default:
		return false
	}
}

func valueEquals(val interface{}, cv models.ConditionValue) bool {
	switch cv.Kind {
	case models.ValueString:
		s, ok := val.(string)
		return ok && s == cv.Str
	case models.ValueNumber:
		num, ok := asNumber(val)
		return ok && num == cv.Num
	case models.ValueBool:
		b, ok := val.(bool)
		return ok && b == cv.Bool
	case models.ValueNull:
		return false // 已知非 null 的字段不等于 null
	default:
		return false
	}
}

// resolveField 点号路径取值，支持嵌套 map，如 "customFields.tier"
func resolveField(snapshot map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = snapshot
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asNumber(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case string:
		num, err := strconv.ParseFloat(v, 64)
		return num, err == nil
	default:
		return 0, false
	}
}

func asString(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asStringSlice(val interface{}) ([]string, bool) {
	switch v := val.(type) {
	case []string:
		return v, true
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, asString(item))
		}
		return items, true
	default:
		return nil, false
	}
}
