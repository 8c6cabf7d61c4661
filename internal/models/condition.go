package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// 条件操作符
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpGreaterThan    = "greater_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessThan       = "less_than"
	OpLessOrEqual    = "less_or_equal"
	OpIn             = "in"
	OpContains       = "contains"
	OpBetween        = "between"
)

// 动作类型
const (
	ActionAssignToUser     = "assign_to_user"
	ActionAssignToTeam     = "assign_to_team"
	ActionSetPriority      = "set_priority"
	ActionSetStatus        = "set_status"
	ActionAddTag           = "add_tag"
	ActionRemoveTag        = "remove_tag"
	ActionSendNotification = "send_notification"
)

// 创建/更新时的校验错误；评估阶段从不抛出
var (
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidAction    = errors.New("invalid action")
)

// ValueKind 条件值的类型标签
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueStringArray
	ValueNumberPair
)

// ConditionValue 条件右值，构造时定型，评估阶段不做无类型比较
type ConditionValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Strs []string
	Pair [2]float64
}

// UnmarshalJSON 按 JSON 形态归类：标量按类型，数组按元素定型。
// 恰好两个数字的数组视为 NumberPair（between 的区间），其余数组统一为字符串集合。
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		v.Kind = ValueNull
	case string:
		v.Kind = ValueString
		v.Str = val
	case float64:
		v.Kind = ValueNumber
		v.Num = val
	case bool:
		v.Kind = ValueBool
		v.Bool = val
	case []interface{}:
		if len(val) == 2 {
			lo, loOK := val[0].(float64)
			hi, hiOK := val[1].(float64)
			if loOK && hiOK {
				v.Kind = ValueNumberPair
				v.Pair = [2]float64{lo, hi}
				return nil
			}
		}
		strs := make([]string, 0, len(val))
		for _, item := range val {
			switch it := item.(type) {
			case string:
				strs = append(strs, it)
			case float64:
				strs = append(strs, strconv.FormatFloat(it, 'f', -1, 64))
			case bool:
				strs = append(strs, strconv.FormatBool(it))
			default:
				return fmt.Errorf("%w: unsupported array element %T", ErrInvalidCondition, item)
			}
		}
		v.Kind = ValueStringArray
		v.Strs = strs
	default:
		return fmt.Errorf("%w: unsupported value type %T", ErrInvalidCondition, raw)
	}
	return nil
}

func (v ConditionValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueStringArray:
		return json.Marshal(v.Strs)
	case ValueNumberPair:
		return json.Marshal([2]float64{v.Pair[0], v.Pair[1]})
	default:
		return []byte("null"), nil
	}
}

// Members 返回 in 操作符可匹配的成员集合（字符串化）
func (v ConditionValue) Members() []string {
	switch v.Kind {
	case ValueStringArray:
		return v.Strs
	case ValueNumberPair:
		return []string{
			strconv.FormatFloat(v.Pair[0], 'f', -1, 64),
			strconv.FormatFloat(v.Pair[1], 'f', -1, 64),
		}
	default:
		return nil
	}
}

// Condition 单个条件项；一条规则内的条件恒为 AND 组合
type Condition struct {
	Field    string         `json:"field"`
	Operator string         `json:"operator"`
	Value    ConditionValue `json:"value"`
}

// Action 规则动作
type Action struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

var validOperators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreaterThan: true, OpGreaterOrEqual: true,
	OpLessThan: true, OpLessOrEqual: true,
	OpIn: true, OpContains: true, OpBetween: true,
}

// ValidateConditions 创建/更新时校验操作符与值形态。
// 评估阶段对未知操作符直接判 false，不会再报错。
func ValidateConditions(conds []Condition) error {
	for i, c := range conds {
		if c.Field == "" {
			return fmt.Errorf("%w: condition %d missing field", ErrInvalidCondition, i)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("%w: condition %d unknown operator %q", ErrInvalidCondition, i, c.Operator)
		}
		switch c.Operator {
		case OpBetween:
			if c.Value.Kind != ValueNumberPair {
				return fmt.Errorf("%w: condition %d between requires a numeric [low, high] pair", ErrInvalidCondition, i)
			}
			if c.Value.Pair[0] > c.Value.Pair[1] {
				return fmt.Errorf("%w: condition %d between bounds out of order", ErrInvalidCondition, i)
			}
		case OpIn:
			if c.Value.Kind != ValueStringArray && c.Value.Kind != ValueNumberPair {
				return fmt.Errorf("%w: condition %d in requires an array value", ErrInvalidCondition, i)
			}
		case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
			if c.Value.Kind != ValueNumber {
				return fmt.Errorf("%w: condition %d %s requires a numeric value", ErrInvalidCondition, i, c.Operator)
			}
		case OpContains:
			if c.Value.Kind != ValueString {
				return fmt.Errorf("%w: condition %d contains requires a string value", ErrInvalidCondition, i)
			}
		case OpEquals, OpNotEquals:
			if c.Value.Kind == ValueStringArray || c.Value.Kind == ValueNumberPair {
				return fmt.Errorf("%w: condition %d %s requires a scalar value", ErrInvalidCondition, i, c.Operator)
			}
		}
	}
	return nil
}

// 各动作类型必需的字符串参数
var requiredActionParams = map[string][]string{
	ActionAssignToUser:     {"userId"},
	ActionAssignToTeam:     {"teamId"},
	ActionSetPriority:      {"priority"},
	ActionSetStatus:        {"status"},
	ActionAddTag:           {"tag"},
	ActionRemoveTag:        {"tag"},
	ActionSendNotification: {"channel", "template"},
}

// ValidateActions 创建/更新时校验动作类型与必要参数
func ValidateActions(actions []Action) error {
	for i, a := range actions {
		required, ok := requiredActionParams[a.Type]
		if !ok {
			return fmt.Errorf("%w: action %d unknown type %q", ErrInvalidAction, i, a.Type)
		}
		for _, key := range required {
			if _, present := a.Params[key]; !present {
				return fmt.Errorf("%w: action %d (%s) missing param %q", ErrInvalidAction, i, a.Type, key)
			}
		}
	}
	return nil
}

// ParseConditions 解析持久化的条件 JSON
func ParseConditions(raw string) ([]Condition, error) {
	if raw == "" {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal([]byte(raw), &conds); err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	return conds, nil
}

// ParseActions 解析持久化的动作 JSON
func ParseActions(raw string) ([]Action, error) {
	if raw == "" {
		return nil, nil
	}
	var actions []Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	return actions, nil
}
