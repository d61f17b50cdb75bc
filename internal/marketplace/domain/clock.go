package domain

import "time"

// Clock 业务时钟。定时扫描与截止时间判断都经由它取当前时间，测试中替换为可拨动的假时钟。
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系统时间
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
