package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amsterdam/haal-centraal-proxy/internal/authz"
	"github.com/Amsterdam/haal-centraal-proxy/internal/policy"
	"github.com/Amsterdam/haal-centraal-proxy/internal/token"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

const (
	testDataset   = "brp-personen"
	testOperation = "ZoekMetPostcodeEnHuisnummer"
)

// personsDocument mirrors the shape of a flattened access profile for the BRP
// persons dataset, with grants at several breadths.
func personsDocument() *policy.Document {
	return &policy.Document{
		ID:      testDataset,
		Version: "v1",
		Operations: map[string][]string{
			testOperation: nil,
		},
		Grants: map[string]policy.ScopeGrant{
			"benk-brp-basis": {
				Scope:  "benk-brp-basis",
				Fields: []string{"naam.voornamen", "adres.postcode"},
				Parameters: map[string]policy.ValueRule{
					"postcode":   {AllowAll: true},
					"huisnummer": {AllowAll: true},
				},
			},
			"benk-brp-adres": {
				Scope:  "benk-brp-adres",
				Fields: []string{"adres"},
				Parameters: map[string]policy.ValueRule{
					"straat": {AllowAll: true},
				},
			},
			"benk-brp-geboorte": {
				Scope:  "benk-brp-geboorte",
				Fields: []string{"geboorte.datum"},
				Parameters: map[string]policy.ValueRule{
					"geboortedatum": {Prefixes: []string{"19"}},
				},
			},
		},
	}
}

type staticPolicies struct {
	doc *policy.Document
}

func (s staticPolicies) Lookup(string) (*policy.Document, error) {
	return s.doc, nil
}

// permissionFor resolves an effective permission for the given scopes against
// the persons fixture.
func permissionFor(t *testing.T, scopes ...string) *authz.EffectivePermission {
	t.Helper()
	resolver := authz.NewResolver(staticPolicies{doc: personsDocument()}, nil)
	caller := token.NewCaller("test-app", scopes, time.Now().Add(time.Hour))
	perm, err := resolver.Resolve(context.Background(), caller, testDataset, testOperation)
	require.NoError(t, err)
	return perm
}

func TestValidateRequestRejectsUngrantedParameter(t *testing.T) {
	perm := permissionFor(t, "benk-brp-basis")

	_, err := ValidateRequest(Request{
		Dataset:   testDataset,
		Operation: testOperation,
		Parameters: map[string][]string{
			"postcode":            {"1011PN"},
			"burgerservicenummer": {"999993653"},
			"geslacht":            {"V"},
		},
	}, perm)

	require.Error(t, err)
	domErr := dErrors.FromError(err)
	assert.Equal(t, dErrors.CodeDisallowedParameter, domErr.Code)
	// All offending names are reported at once, sorted.
	assert.Equal(t, "burgerservicenummer, geslacht", domErr.Param)
}

func TestValidateRequestRejectsDisallowedValue(t *testing.T) {
	perm := permissionFor(t, "benk-brp-geboorte")

	_, err := ValidateRequest(Request{
		Dataset:    testDataset,
		Operation:  testOperation,
		Parameters: map[string][]string{"geboortedatum": {"2001-04-02"}},
	}, perm)

	require.Error(t, err)
	domErr := dErrors.FromError(err)
	assert.Equal(t, dErrors.CodeDisallowedParameterValue, domErr.Code)
	assert.Equal(t, "geboortedatum", domErr.Param)

	// A value inside the granted prefix passes.
	_, err = ValidateRequest(Request{
		Dataset:    testDataset,
		Operation:  testOperation,
		Parameters: map[string][]string{"geboortedatum": {"1985-11-30"}},
	}, perm)
	assert.NoError(t, err)
}

func TestValidateRequestDefaultsToAllGrantedFields(t *testing.T) {
	perm := permissionFor(t, "benk-brp-basis")

	validated, err := ValidateRequest(Request{
		Dataset:    testDataset,
		Operation:  testOperation,
		Parameters: map[string][]string{"postcode": {"1011PN"}},
	}, perm)

	require.NoError(t, err)
	assert.Equal(t, []string{"adres.postcode", "naam.voornamen"}, validated.Fields)
}

func TestValidateRequestTrimsOverBroadSelection(t *testing.T) {
	perm := permissionFor(t, "benk-brp-basis")

	validated, err := ValidateRequest(Request{
		Dataset:   testDataset,
		Operation: testOperation,
		Fields: []string{
			"naam.voornamen",
			"burgerservicenummer", // not granted, dropped silently
			"adres.postcode",
		},
	}, perm)

	require.NoError(t, err)
	// Caller order is preserved for the surviving fields.
	assert.Equal(t, []string{"naam.voornamen", "adres.postcode"}, validated.Fields)
}

func TestValidateRequestAncestorGrantCoversSelection(t *testing.T) {
	perm := permissionFor(t, "benk-brp-adres")

	validated, err := ValidateRequest(Request{
		Dataset:   testDataset,
		Operation: testOperation,
		Fields:    []string{"adres.straat", "adres.postcode"},
	}, perm)

	require.NoError(t, err)
	assert.Equal(t, []string{"adres.straat", "adres.postcode"}, validated.Fields)
}

func TestValidateRequestFailsWhenNothingSurvives(t *testing.T) {
	perm := permissionFor(t, "benk-brp-basis")

	_, err := ValidateRequest(Request{
		Dataset:   testDataset,
		Operation: testOperation,
		Fields:    []string{"burgerservicenummer", "geboorte.datum"},
	}, perm)

	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNoFieldsPermitted, dErrors.CodeOf(err))
}

func TestValidatedRequestBody(t *testing.T) {
	validated := &ValidatedRequest{
		Operation: testOperation,
		Parameters: map[string][]string{
			"postcode":   {"1011PN"},
			"huisnummer": {"1", "3"},
		},
		Fields: []string{"naam.voornamen"},
	}

	body := validated.Body()
	assert.Equal(t, testOperation, body["type"])
	assert.Equal(t, []string{"naam.voornamen"}, body["fields"])
	// Single values flatten to a bare string, multi-valued stay a slice.
	assert.Equal(t, "1011PN", body["postcode"])
	assert.Equal(t, []string{"1", "3"}, body["huisnummer"])
}
