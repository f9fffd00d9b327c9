package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// StudentExamSessionStartKey returns the cache key holding when a student first started an exam
func (r *CacheKeyStruct) StudentExamSessionStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_start", studentID, examID)
}

// StudentExamPausedKey returns the cache key holding how many milliseconds a student's exam clock sat paused
func (r *CacheKeyStruct) StudentExamPausedKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:paused_ms", studentID, examID)
}

// StudentProgressKey returns the cache key for a student's sealed answer snapshot
func (r *CacheKeyStruct) StudentProgressKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:progress", studentID, examID)
}

// StudentActiveExamKey returns the cache key for a student's currently active exam
func (r *CacheKeyStruct) StudentActiveExamKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_exam", studentID)
}

// ExamDefinitionKey returns the cache key for an exam's catalog entry
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExamQuestionsKey returns the cache key for an exam's ordered questions (with answer key)
func (r *CacheKeyStruct) ExamQuestionsKey(examID string) string {
	return fmt.Sprintf("exam:%s:questions", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// LoginRateKey returns the counter key for login attempts from one client
func (r *CacheKeyStruct) LoginRateKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:login:%s", clientIP)
}

var CacheKey = NewCacheKeyStruct()
