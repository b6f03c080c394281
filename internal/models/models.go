// Package models defines the core data structures for ReplyPipe.
//
// It includes the knowledge base entry, pending question, and message event
// types shared across modules.
package models

import (
	"errors"
	"time"
)

// PendingStatus marks where a pending question is in its lifecycle.
// Transitions are forward-only: pending -> answered -> saved_as_faq.
type PendingStatus string

const (
	// PendingStatusPending means the question is awaiting an operator.
	PendingStatusPending PendingStatus = "pending"
	// PendingStatusAnswered means an operator reply was matched to the question.
	PendingStatusAnswered PendingStatus = "answered"
	// PendingStatusSavedAsFAQ means the answered question was promoted into the knowledge base.
	PendingStatusSavedAsFAQ PendingStatus = "saved_as_faq"
)

// IsValidPendingStatus checks if the given status is supported.
func IsValidPendingStatus(s PendingStatus) bool {
	switch s {
	case PendingStatusPending, PendingStatusAnswered, PendingStatusSavedAsFAQ:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a pending question may move from one status to
// another. Only forward transitions are allowed.
func CanTransition(from, to PendingStatus) bool {
	switch from {
	case PendingStatusPending:
		return to == PendingStatusAnswered || to == PendingStatusSavedAsFAQ
	case PendingStatusAnswered:
		return to == PendingStatusSavedAsFAQ
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
	ErrEmptyBody          = errors.New("message body cannot be empty")
	ErrPendingNotFound    = errors.New("pending question not found")
	ErrNoOperatorResponse = errors.New("pending question has no operator response")
	ErrBackwardTransition = errors.New("pending question status cannot move backward")
	ErrEmptyQuestion      = errors.New("question cannot be empty")
	ErrEmptyAnswer        = errors.New("answer cannot be empty")
	ErrEmptySection       = errors.New("section cannot be empty")
)

// FaqEntry is one question/answer pair from the knowledge base.
// Entries are immutable once loaded; the full set is rebuilt on every lookup.
type FaqEntry struct {
	Section  string `json:"section"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	IsCustom bool   `json:"is_custom"`
}

// PendingQuestion is a customer query the engine could not confidently answer,
// queued for operator review and potential promotion into the knowledge base.
type PendingQuestion struct {
	ID                string        `json:"id"`
	Question          string        `json:"question"`
	FromContact       string        `json:"fromContact"`
	FromName          string        `json:"fromName"`
	Category          string        `json:"category"`
	Timestamp         time.Time     `json:"timestamp"`
	Status            PendingStatus `json:"status"`
	OperatorResponse  *string       `json:"operatorResponse"`
	ResponseTimestamp *time.Time    `json:"responseTimestamp"`
}

// Response represents an incoming message from a customer.
type Response struct {
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	Body     string `json:"body"`
	Time     int64  `json:"time"`
}

// Outgoing represents an outbound message from the business account to a
// contact, as observed on the channel. SentByEngine marks messages this
// process delivered itself; operator-reply matching must skip those.
type Outgoing struct {
	To           string `json:"to"`
	Body         string `json:"body"`
	Time         int64  `json:"time"`
	SentByEngine bool   `json:"sent_by_engine"`
}

// Decision captures the routing outcome for one inbound message.
type Decision struct {
	Reply            string  `json:"reply"`
	Confidence       float64 `json:"confidence"`
	PassedToOperator bool    `json:"passed_to_operator"`
	Dropped          bool    `json:"dropped"`
}

// AuditRecord is the per-message audit log entry: what the engine decided and
// what it attempted to send, regardless of delivery outcome.
type AuditRecord struct {
	From             string    `json:"from"`
	Question         string    `json:"question"`
	Response         string    `json:"response"`
	Confidence       float64   `json:"confidence"`
	PassedToOperator bool      `json:"passed_to_operator"`
	Timestamp        time.Time `json:"timestamp"`
}

// APIResponse provides a consistent JSON envelope for admin API endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
