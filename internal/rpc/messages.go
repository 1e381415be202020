package rpc

import (
	"encoding/json"
	"time"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"userId"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
}

// Beta is a listing entry.
type Beta struct {
	ID        string    `json:"id"`
	Grade     string    `json:"grade"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateBetaRequest struct {
	Grade string `json:"grade"`
}

type CreateBetaResponse struct {
	Beta Beta `json:"beta"`
}

type ListBetasRequest struct{}

type ListBetasResponse struct {
	Betas []Beta `json:"betas"`
}

type GetBetaRequest struct {
	ID string `json:"id"`
}

// GetBetaResponse carries the drawing document as raw JSON; receivers validate it.
type GetBetaResponse struct {
	Beta    Beta            `json:"beta"`
	Drawing json.RawMessage `json:"drawing"`
}

// SaveDrawingRequest is a conditional write: it succeeds only while the beta is still
// at ExpectedUpdatedAt.
type SaveDrawingRequest struct {
	ID                string          `json:"id"`
	Drawing           json.RawMessage `json:"drawing"`
	ExpectedUpdatedAt time.Time       `json:"expectedUpdatedAt"`
}

type SaveDrawingResponse struct {
	UpdatedAt time.Time `json:"updatedAt"`
}
