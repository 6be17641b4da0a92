package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amsterdam/haal-centraal-proxy/internal/policy"
	"github.com/Amsterdam/haal-centraal-proxy/internal/token"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

// fakePolicies serves a fixed document set without touching the filesystem.
type fakePolicies struct {
	docs map[string]*policy.Document
}

func (f *fakePolicies) Lookup(datasetID string) (*policy.Document, error) {
	doc, ok := f.docs[datasetID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnknownDataset, "unknown dataset %q", datasetID)
	}
	return doc, nil
}

func personsDocument() *policy.Document {
	allowAll := policy.ValueRule{AllowAll: true}
	return &policy.Document{
		ID: "brp-personen",
		Operations: map[string][]string{
			"ZoekMetPostcodeEnHuisnummer":     {},
			"RaadpleegMetBurgerservicenummer": {"benk-brp-bsn"},
		},
		Fields: map[string]policy.FieldDefinition{
			"naam.voornamen":      {Path: "naam.voornamen"},
			"adres.postcode":      {Path: "adres.postcode"},
			"adres.straat":        {Path: "adres.straat"},
			"burgerservicenummer": {Path: "burgerservicenummer", Classification: policy.ClassificationSensitive},
		},
		Grants: map[string]policy.ScopeGrant{
			"benk-brp-basis": {
				Scope:  "benk-brp-basis",
				Fields: []string{"naam.voornamen", "adres.postcode"},
				Parameters: map[string]policy.ValueRule{
					"type":       allowAll,
					"postcode":   allowAll,
					"huisnummer": allowAll,
				},
			},
			"benk-brp-bsn": {
				Scope:  "benk-brp-bsn",
				Fields: []string{"burgerservicenummer"},
				Parameters: map[string]policy.ValueRule{
					"type":                allowAll,
					"burgerservicenummer": allowAll,
				},
			},
		},
	}
}

func newResolver() *Resolver {
	return NewResolver(&fakePolicies{docs: map[string]*policy.Document{
		"brp-personen": personsDocument(),
	}}, nil)
}

func caller(scopes ...string) *token.Caller {
	return token.NewCaller("municipal-app-1", scopes, time.Now().Add(time.Hour))
}

func TestResolveSingleScope(t *testing.T) {
	perm, err := newResolver().Resolve(context.Background(),
		caller("benk-brp-basis"), "brp-personen", "ZoekMetPostcodeEnHuisnummer")
	require.NoError(t, err)

	assert.Equal(t, []string{"benk-brp-basis"}, perm.GrantingScopes)
	assert.Equal(t, []string{"adres.postcode", "naam.voornamen"}, perm.AllowedFields())
	assert.Equal(t, []string{"huisnummer", "postcode", "type"}, perm.AllowedParameters())
	assert.True(t, perm.FieldGranted("adres.postcode"))
	assert.False(t, perm.FieldGranted("burgerservicenummer"))
}

func TestResolveUnionOfGrants(t *testing.T) {
	perm, err := newResolver().Resolve(context.Background(),
		caller("benk-brp-basis", "benk-brp-bsn"), "brp-personen", "ZoekMetPostcodeEnHuisnummer")
	require.NoError(t, err)

	// Union, never intersection: both field sets and both parameter sets.
	assert.Equal(t,
		[]string{"adres.postcode", "burgerservicenummer", "naam.voornamen"},
		perm.AllowedFields())
	assert.Contains(t, perm.AllowedParameters(), "burgerservicenummer")
	assert.Contains(t, perm.AllowedParameters(), "postcode")
}

func TestResolveUnionMonotonicity(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	base, err := r.Resolve(ctx, caller("benk-brp-basis"), "brp-personen", "ZoekMetPostcodeEnHuisnummer")
	require.NoError(t, err)
	wider, err := r.Resolve(ctx, caller("benk-brp-basis", "benk-brp-bsn"), "brp-personen", "ZoekMetPostcodeEnHuisnummer")
	require.NoError(t, err)

	// An extra scope never shrinks the permission sets.
	for _, f := range base.AllowedFields() {
		assert.True(t, wider.FieldGranted(f), "field %s lost by adding a scope", f)
	}
	for _, p := range base.AllowedParameters() {
		_, ok := wider.ParameterRule(p)
		assert.True(t, ok, "parameter %s lost by adding a scope", p)
	}
}

func TestResolvePermissiveValueRuleUnion(t *testing.T) {
	doc := personsDocument()
	// One scope restricts postcode to a district prefix, another allows all
	// values: the permissive union wins.
	doc.Grants["benk-brp-wijk"] = policy.ScopeGrant{
		Scope:  "benk-brp-wijk",
		Fields: []string{"adres.postcode"},
		Parameters: map[string]policy.ValueRule{
			"postcode": {Prefixes: []string{"10"}},
		},
	}
	r := NewResolver(&fakePolicies{docs: map[string]*policy.Document{"brp-personen": doc}}, nil)

	narrow, err := r.Resolve(context.Background(), caller("benk-brp-wijk"),
		"brp-personen", "ZoekMetPostcodeEnHuisnummer")
	require.NoError(t, err)
	rule, ok := narrow.ParameterRule("postcode")
	require.True(t, ok)
	assert.True(t, rule.Allows("1074VE"))
	assert.False(t, rule.Allows("2511CV"))

	both, err := r.Resolve(context.Background(), caller("benk-brp-wijk", "benk-brp-basis"),
		"brp-personen", "ZoekMetPostcodeEnHuisnummer")
	require.NoError(t, err)
	rule, ok = both.ParameterRule("postcode")
	require.True(t, ok)
	assert.True(t, rule.Allows("2511CV"))
}

func TestResolveNoGrantedScope(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
	}{
		{name: "empty scope set", scopes: nil},
		{name: "scopes without grants here", scopes: []string{"parkeervergunningen", "afvalcontainers"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newResolver().Resolve(context.Background(),
				caller(tt.scopes...), "brp-personen", "ZoekMetPostcodeEnHuisnummer")
			require.Error(t, err)
			assert.Equal(t, dErrors.CodeNoGrantedScope, dErrors.CodeOf(err))
		})
	}
}

func TestResolveUnknownDataset(t *testing.T) {
	_, err := newResolver().Resolve(context.Background(),
		caller("benk-brp-basis"), "verblijfplaatshistorie", "Raadpleeg")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnknownDataset, dErrors.CodeOf(err))
}

func TestResolveUnsupportedOperation(t *testing.T) {
	_, err := newResolver().Resolve(context.Background(),
		caller("benk-brp-basis"), "brp-personen", "ZoekMetGeheimeOperatie")
	require.Error(t, err)
	domErr := dErrors.FromError(err)
	assert.Equal(t, dErrors.CodeBadRequest, domErr.Code)
	assert.Equal(t, "type", domErr.Param)
}

func TestResolveOperationRequiresExtraScope(t *testing.T) {
	r := newResolver()

	// Grant present, but the operation demands benk-brp-bsn on top.
	_, err := r.Resolve(context.Background(), caller("benk-brp-basis"),
		"brp-personen", "RaadpleegMetBurgerservicenummer")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNoGrantedScope, dErrors.CodeOf(err))

	perm, err := r.Resolve(context.Background(), caller("benk-brp-basis", "benk-brp-bsn"),
		"brp-personen", "RaadpleegMetBurgerservicenummer")
	require.NoError(t, err)
	assert.True(t, perm.FieldGranted("burgerservicenummer"))
}

func TestFieldGrantedAncestors(t *testing.T) {
	perm := &EffectivePermission{
		fields: map[string]struct{}{"adres": {}, "naam.voornamen": {}},
	}

	assert.True(t, perm.FieldGranted("adres"))
	assert.True(t, perm.FieldGranted("adres.postcode"))
	assert.True(t, perm.FieldGranted("adres.straat.toevoeging"))
	assert.False(t, perm.FieldGranted("naam"))
	assert.False(t, perm.FieldGranted("naam.geslachtsnaam"))
	assert.True(t, perm.SubtreeGranted("naam"))
	assert.False(t, perm.SubtreeGranted("geboorte"))
}
