package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"sandia/internal/apiclient"
	"sandia/internal/schema"
)

func TestDelete(t *testing.T) {
	c := schema.Default()
	category := c.MustLookup(schema.Category)
	payment := c.MustLookup(schema.Payment)

	serverFault := &apiclient.Error{Kind: apiclient.KindConflict, Status: 500}
	offline := &apiclient.Error{Kind: apiclient.KindTransport, Err: errors.New("dial tcp: connection refused")}
	notFound := &apiclient.Error{Kind: apiclient.KindUnknown, Status: 404}

	tests := []struct {
		name   string
		entity *schema.Entity
		err    error
		want   string
	}{
		{"blocked category", category, serverFault, "cannot delete category: services reference it"},
		{"offline category", category, offline, "error deleting category: network error"},
		{"missing category", category, notFound, "error deleting category: request failed with status code 404"},
		{"payment has no curated text", payment, serverFault, "error deleting payment: request failed with status code 500"},
		{"foreign error", category, errors.New("boom"), "error deleting category: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delete(tt.entity, tt.err))
		})
	}

	assert.Empty(t, Delete(category, nil))
}

func TestSave(t *testing.T) {
	c := schema.Default()
	user := c.MustLookup(schema.User)
	service := c.MustLookup(schema.Service)

	tests := []struct {
		name   string
		entity *schema.Entity
		err    error
		want   string
	}{
		{
			"curated field first",
			user,
			&apiclient.Error{Kind: apiclient.KindValidation, Status: 400, Body: map[string]any{
				"nombre":   []any{"too short"},
				"telefono": []any{"invalid phone"},
				"detail":   "bad request",
			}},
			"could not save user: invalid phone",
		},
		{
			"other schema field",
			service,
			&apiclient.Error{Kind: apiclient.KindValidation, Status: 400, Body: map[string]any{
				"precio_base": []any{"A valid number is required."},
			}},
			"could not save service: Price ($): A valid number is required.",
		},
		{
			"detail",
			service,
			&apiclient.Error{Kind: apiclient.KindUnknown, Status: 403, Body: map[string]any{"detail": "Permission denied."}},
			"could not save service: Permission denied.",
		},
		{
			"unknown field ignored",
			service,
			&apiclient.Error{Kind: apiclient.KindValidation, Status: 400, Body: map[string]any{"slug": []any{"taken"}}},
			"could not save service: request failed with status code 400",
		},
		{
			"network",
			service,
			&apiclient.Error{Kind: apiclient.KindTransport, Err: errors.New("timeout")},
			"could not save service: network error",
		},
		{
			"payload rejected before sending",
			service,
			&apiclient.Error{Kind: apiclient.KindUnknown, Local: true, Err: errors.New(`encode body: json: invalid number literal "NaN"`)},
			`could not save service: encode body: json: invalid number literal "NaN"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Save(tt.entity, tt.err))
		})
	}
}

func TestLoadTexts(t *testing.T) {
	err := &apiclient.Error{Kind: apiclient.KindUnknown, Status: 401}
	assert.Equal(t, "error loading payments: request failed with status code 401", Load("payments", err))
	assert.Equal(t, "could not load payment for editing: request failed with status code 401", EditLoad("payment", err))
}
