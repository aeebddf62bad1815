// Package apperr 定义了系统统一的错误分类，以及到 HTTP 状态码的映射。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 表示错误类别。
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation 请求字段缺失或非法，不重试。
	KindValidation
	// KindNotFound 文档或会话不存在。
	KindNotFound
	// KindEmptyDocument 文档没有可提取的文本，任务直接失败。
	KindEmptyDocument
	// KindTransient embedding / 向量库 / 大模型调用失败，可按批次重试。
	KindTransient
	// KindAuth 凭证缺失或无效。
	KindAuth
	// KindPersistence 聊天消息落库失败，仅记录日志。
	KindPersistence
	// KindConflict 已存在的集合与请求的参数不兼容。
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFoundError"
	case KindEmptyDocument:
		return "EmptyDocumentError"
	case KindTransient:
		return "TransientServiceError"
	case KindAuth:
		return "AuthError"
	case KindPersistence:
		return "PersistenceError"
	case KindConflict:
		return "CollectionConflictError"
	default:
		return "UnknownError"
	}
}

// Error 是带分类的错误。Op 记录出错的操作，Err 为底层错误。
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func NotFound(what, id string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %q not found", what, id)}
}

func EmptyDocument(documentID string) error {
	return &Error{Kind: KindEmptyDocument, Msg: fmt.Sprintf("document %q has no extractable text", documentID)}
}

// Transient 包装外部服务调用失败。
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Auth(msg string, err error) error {
	return &Error{Kind: KindAuth, Msg: msg, Err: err}
}

func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

func Conflict(op, msg string) error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg}
}

// KindOf 返回错误链中第一个 *Error 的类别。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is 判断错误链中是否含有指定类别的错误。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus 将错误映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindEmptyDocument:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusBadGateway
	case KindAuth:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
