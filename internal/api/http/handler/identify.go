package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/contactlink/identity-server/internal/logger"
	"github.com/contactlink/identity-server/internal/model"
)

// IdentityService defines contact reconciliation operations.
type IdentityService interface {
	Identify(ctx context.Context, params model.IdentifyParams) (model.ConsolidatedContact, error)
}

// Identify handles the HTTP endpoint for contact reconciliation.
type Identify struct {
	identityService IdentityService
	logger          *logger.Logger
}

// NewIdentify creates a new Identify handler.
func NewIdentify(identityService IdentityService, logger *logger.Logger) *Identify {
	return &Identify{
		identityService: identityService,
		logger:          logger,
	}
}

// identifyRequest is the POST /identify body. phoneNumber is accepted as a
// JSON string or, from older clients, a bare number.
type identifyRequest struct {
	Email       *string     `json:"email"`
	PhoneNumber *flexString `json:"phoneNumber"`
}

type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

type contactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

type identifyResponse struct {
	Contact contactResponse `json:"contact"`
}

// Handle processes a reconciliation request. Requests carrying neither an
// email nor a phone number are rejected here; the service precondition is
// that at least one field is set.
func (h *Identify) Handle(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("identify handler: malformed request body", "error", err.Error())
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	params := model.IdentifyParams{
		Email: normalize(req.Email),
		Phone: normalizeFlex(req.PhoneNumber),
	}
	if params.Email == nil && params.Phone == nil {
		writeError(w, http.StatusBadRequest, model.ErrContactInvalid.Error())
		return
	}

	view, err := h.identityService.Identify(r.Context(), params)
	if err != nil {
		h.logger.Error("identify handler: reconciliation failed", "error", err.Error())
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identifyResponse{
		Contact: contactResponse{
			PrimaryContactID:    view.PrimaryID,
			Emails:              view.Emails,
			PhoneNumbers:        view.Phones,
			SecondaryContactIDs: view.SecondaryIDs,
		},
	})
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeFlex(s *flexString) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return normalize(&v)
}
