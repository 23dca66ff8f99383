package s3

import (
	"errors"
	"net/http"

	minio "github.com/minio/minio-go/v7"
)

// Kind 对象存储错误的分类. 在 I/O 边界判定一次，
// 下游只看 Kind，不再解析错误码字符串.
type Kind int

const (
	KindOther             Kind = iota // 其它错误
	KindRateLimited                   // 限流/过载，应退避后重试
	KindAlreadyInProgress             // 恢复请求已在进行中，视为成功
	KindNotFound                      // 对象或 bucket 不存在
)

// rateLimitCodes 视为限流的错误码.
var rateLimitCodes = map[string]struct{}{
	"SlowDown":             {},
	"Throttling":           {},
	"ThrottlingException":  {},
	"RequestLimitExceeded": {},
}

// OpError 携带分类结果的对象存储错误.
type OpError struct {
	Op      string // 操作名，如 "download"、"restore"
	Kind    Kind
	Code    string // 服务端错误码，可能为空
	Message string
	Err     error
}

func (e *OpError) Error() string {
	if e.Code != "" {
		return e.Op + ": " + e.Code + ": " + e.Message
	}

	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// classify 把 minio 错误归类为 OpError. nil 原样返回.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	oe := &OpError{
		Op:      op,
		Kind:    KindOther,
		Code:    resp.Code,
		Message: resp.Message,
		Err:     err,
	}

	switch {
	case isRateLimitResponse(resp):
		oe.Kind = KindRateLimited
	case resp.Code == "RestoreAlreadyInProgress":
		oe.Kind = KindAlreadyInProgress
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		oe.Kind = KindNotFound
	}

	return oe
}

func isRateLimitResponse(resp minio.ErrorResponse) bool {
	if _, ok := rateLimitCodes[resp.Code]; ok {
		return true
	}

	return resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable
}

// KindOf 返回错误的分类，非 OpError 一律视为 KindOther.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}

	return KindOther
}

// IsRateLimited 判断是否为限流错误.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsAlreadyInProgress 判断是否为"恢复已在进行中".
func IsAlreadyInProgress(err error) bool {
	return KindOf(err) == KindAlreadyInProgress
}

// IsNotFound 判断是否为对象不存在.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
