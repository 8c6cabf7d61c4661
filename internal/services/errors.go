package services

import "errors"

// 结构性错误快速失败；动作级运行时错误被吞入 ActionResult，不会走到这里
var (
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrInvalidSchedule = errors.New("invalid schedule")
)
