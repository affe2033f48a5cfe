// internal/identity/router_test.go
package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

func testSubmission(answers map[string]models.Answer) models.Submission {
	return models.Submission{
		ID:        "sub-001",
		FormID:    "form-001",
		CreatedAt: time.Now().UTC(),
		Answers:   answers,
	}
}

// ==========================
// Extraction Tests
// ==========================

func TestExtract(t *testing.T) {
	router := NewRouter(store.NewMemoryStore(), logger.NewNop())

	tests := []struct {
		name      string
		answers   map[string]models.Answer
		schema    Schema
		wantEmail string
		wantName  string
		wantPhone string
		wantErr   bool
	}{
		{
			name: "numeric field ids",
			answers: map[string]models.Answer{
				"1": {Answer: "Jane Roe"},
				"2": {Answer: "Jane.Roe@Example.com"},
				"3": {Answer: "555-0100"},
			},
			schema:    DefaultSchema(),
			wantEmail: "jane.roe@example.com",
			wantName:  "Jane Roe",
			wantPhone: "555-0100",
		},
		{
			name: "named keys",
			answers: map[string]models.Answer{
				"email":     {Answer: "buyer@example.com"},
				"full_name": {Answer: "  John Doe  "},
			},
			schema:    DefaultSchema(),
			wantEmail: "buyer@example.com",
			wantName:  "John Doe",
		},
		{
			name: "probe order prefers earlier keys",
			answers: map[string]models.Answer{
				"2":     {Answer: "primary@example.com"},
				"email": {Answer: "secondary@example.com"},
			},
			schema:    DefaultSchema(),
			wantEmail: "primary@example.com",
		},
		{
			name: "per-form override wins",
			answers: map[string]models.Answer{
				"2":            {Answer: "wrong@example.com"},
				"custom_email": {Answer: "right@example.com"},
			},
			schema:    DefaultSchema().Merge([]string{"custom_email"}, nil, nil),
			wantEmail: "right@example.com",
		},
		{
			name: "numeric answer values coerced",
			answers: map[string]models.Answer{
				"2": {Answer: "seller@example.com"},
				"3": {Answer: float64(5550100)},
			},
			schema:    DefaultSchema(),
			wantEmail: "seller@example.com",
			wantPhone: "5550100",
		},
		{
			name: "missing email is unresolvable",
			answers: map[string]models.Answer{
				"1": {Answer: "No Email"},
			},
			schema:  DefaultSchema(),
			wantErr: true,
		},
		{
			name: "value without at-sign is unresolvable",
			answers: map[string]models.Answer{
				"2": {Answer: "not-an-email"},
			},
			schema:  DefaultSchema(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contact, err := router.Extract(testSubmission(tt.answers), tt.schema)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, contact.Email)
			assert.Equal(t, tt.wantName, contact.Name)
			assert.Equal(t, tt.wantPhone, contact.Phone)
		})
	}
}

// ==========================
// Resolution Tests
// ==========================

func TestResolve_NewClient(t *testing.T) {
	router := NewRouter(store.NewMemoryStore(), logger.NewNop())

	client, isNew, err := router.Resolve(context.Background(), Contact{Email: "new@example.com"}, models.ClientTypeBuyer)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Nil(t, client)
}

func TestResolve_ExistingClient(t *testing.T) {
	st := store.NewMemoryStore()
	existing := &models.Client{
		ID:         "client-001",
		Email:      "known@example.com",
		ClientType: models.ClientTypeBuyer,
	}
	require.NoError(t, st.CreateClient(context.Background(), existing))

	router := NewRouter(st, logger.NewNop())
	client, isNew, err := router.Resolve(context.Background(), Contact{Email: "known@example.com"}, models.ClientTypeBuyer)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "client-001", client.ID)
}

func TestResolve_SameEmailDifferentType(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateClient(context.Background(), &models.Client{
		ID:         "client-001",
		Email:      "both@example.com",
		ClientType: models.ClientTypeBuyer,
	}))

	router := NewRouter(st, logger.NewNop())

	// A seller submission from the same email is a distinct identity.
	_, isNew, err := router.Resolve(context.Background(), Contact{Email: "both@example.com"}, models.ClientTypeSeller)
	require.NoError(t, err)
	assert.True(t, isNew)
}
