package assignment

import (
	"errors"
	"fmt"
)

// Kind classifies why an assignment attempt failed
type Kind string

const (
	KindConversationNotFound      Kind = "CONVERSATION_NOT_FOUND"
	KindConversationNotAssignable Kind = "CONVERSATION_NOT_ASSIGNABLE"
	KindNoCommercialAvailable     Kind = "NO_COMMERCIAL_AVAILABLE"
	KindNoEligibleCommercial      Kind = "NO_ELIGIBLE_COMMERCIAL"
	KindPersistenceFailed         Kind = "ASSIGNMENT_PERSISTENCE_FAILED"
	KindPresenceStoreUnavailable  Kind = "PRESENCE_STORE_UNAVAILABLE"
	KindRepositoryUnavailable     Kind = "REPOSITORY_UNAVAILABLE"
	KindInvalidCriteria           Kind = "INVALID_CRITERIA"
)

var (
	ErrConversationNotFound      = errors.New("conversation not found")
	ErrConversationNotAssignable = errors.New("conversation not assignable")
	ErrNoCommercialAvailable     = errors.New("no commercial available")
	ErrNoEligibleCommercial      = errors.New("no eligible commercial")
	ErrPersistenceFailed         = errors.New("assignment persistence failed")
	ErrPresenceStoreUnavailable  = errors.New("presence store unavailable")
	ErrRepositoryUnavailable     = errors.New("conversation repository unavailable")
	ErrInvalidCriteria           = errors.New("invalid assignment criteria")
)

var sentinels = map[Kind]error{
	KindConversationNotFound:      ErrConversationNotFound,
	KindConversationNotAssignable: ErrConversationNotAssignable,
	KindNoCommercialAvailable:     ErrNoCommercialAvailable,
	KindNoEligibleCommercial:      ErrNoEligibleCommercial,
	KindPersistenceFailed:         ErrPersistenceFailed,
	KindPresenceStoreUnavailable:  ErrPresenceStoreUnavailable,
	KindRepositoryUnavailable:     ErrRepositoryUnavailable,
	KindInvalidCriteria:           ErrInvalidCriteria,
}

// Error is a failed assignment attempt. It matches both its kind's sentinel
// and the underlying cause with errors.Is.
type Error struct {
	Kind           Kind
	ConversationID string
	Message        string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: conversation %s: %s (%v)", e.Kind, e.ConversationID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: conversation %s: %s", e.Kind, e.ConversationID, e.Message)
}

// UserMessage returns the message without internal causes
func (e *Error) UserMessage() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := sentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind Kind, conversationID, message string, cause error) *Error {
	return &Error{Kind: kind, ConversationID: conversationID, Message: message, Err: cause}
}

// KindOf returns the failure kind of err, or "" if err is not an assignment error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
