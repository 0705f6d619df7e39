package xmpp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/types"
)

func roomInfoResult(features []string, fields ...FormField) *Info {
	fields = append([]FormField{
		{Var: "FORM_TYPE", Values: []string{FormTypeRoomInfo}},
	}, fields...)
	return &Info{
		Identities: []Identity{{Category: "conference", Type: "text", Name: "Test Room"}},
		Features:   append([]string{FeatureMUC}, features...),
		Forms:      []Form{{FormType: "result", Fields: fields}},
	}
}

func TestDeriveAddressMetadata_NilMeansUnreachable(t *testing.T) {
	meta := DeriveAddressMetadata(nil)
	assert.False(t, meta.IsReachable)
	assert.False(t, meta.IsChatService)
}

func TestDeriveAddressMetadata_NonChatService(t *testing.T) {
	meta := DeriveAddressMetadata(&Info{
		Identities: []Identity{{Category: "server", Type: "im"}},
		Features:   []string{"urn:xmpp:ping"},
	})
	assert.True(t, meta.IsReachable)
	assert.False(t, meta.IsChatService)
	assert.False(t, meta.IsIndexable)
}

func TestDeriveAddressMetadata_ConferenceIdentityAlone_NotChatService(t *testing.T) {
	// both the identity and the protocol feature are required
	meta := DeriveAddressMetadata(&Info{
		Identities: []Identity{{Category: "conference", Type: "text"}},
	})
	assert.True(t, meta.IsReachable)
	assert.False(t, meta.IsChatService)
}

func TestDeriveAddressMetadata_Classification(t *testing.T) {
	tests := []struct {
		features  []string
		indexable bool
		joinable  bool
	}{
		{[]string{FeatureMUCPublic, FeatureMUCPersistent, FeatureMUCOpen}, true, true},
		{[]string{FeatureMUCPublic, FeatureMUCPersistent}, true, false},
		{[]string{FeatureMUCPublic, FeatureMUCOpen}, false, false},
		{[]string{FeatureMUCPersistent, FeatureMUCOpen}, false, true},
		{[]string{FeatureMUCPublic, FeatureMUCPersistent, FeatureMUCOpen, FeatureMUCPasswordProtected}, true, false},
		{nil, false, false},
	}
	for i, tc := range tests {
		t.Run(fmt.Sprintf("case%d", i), func(t *testing.T) {
			meta := DeriveAddressMetadata(roomInfoResult(tc.features))
			assert.True(t, meta.IsChatService)
			assert.Equal(t, tc.indexable, meta.IsIndexable, "indexable")
			assert.Equal(t, tc.joinable, meta.IsJoinable, "joinable")
		})
	}
}

func TestAnonymityModeOf(t *testing.T) {
	assert.Equal(t, types.AnonymityNone, AnonymityModeOf(roomInfoResult([]string{FeatureMUCNonAnonymous})))
	assert.Equal(t, types.AnonymitySemi, AnonymityModeOf(roomInfoResult([]string{FeatureMUCSemiAnonymous})))
	assert.Equal(t, types.AnonymityMode(""), AnonymityModeOf(roomInfoResult(nil)))
	// non-anonymous wins when a broken service advertises both
	assert.Equal(t, types.AnonymityNone, AnonymityModeOf(roomInfoResult([]string{
		FeatureMUCSemiAnonymous, FeatureMUCNonAnonymous,
	})))
}

func TestExtractRoomInfo_ReadsFormFields(t *testing.T) {
	info := roomInfoResult(nil,
		FormField{Var: FieldRoomOccupants, Values: []string{"23"}},
		FormField{Var: FieldRoomDescription, Values: []string{"A place to talk"}},
		FormField{Var: FieldRoomSubject, Values: []string{"today: releases"}},
		FormField{Var: FieldRoomLanguage, Values: []string{"en"}},
		FormField{Var: FieldRoomLogs, Values: []string{"https://logs.example.net/room/"}},
	)

	ri := ExtractRoomInfo(info)
	require.NotNil(t, ri.NUsers)
	assert.Equal(t, 23, *ri.NUsers)
	assert.Equal(t, "Test Room", ri.Name)
	assert.Equal(t, "A place to talk", ri.Description)
	assert.Equal(t, "today: releases", ri.Subject)
	assert.Equal(t, "en", ri.Language)
	assert.Equal(t, "https://logs.example.net/room/", ri.HTTPLogsURL)
}

func TestExtractRoomInfo_DescriptionFallsBackToRoomConfig(t *testing.T) {
	info := roomInfoResult(nil,
		FormField{Var: FieldRoomDescAlt, Values: []string{"configured description"}},
	)
	assert.Equal(t, "configured description", ExtractRoomInfo(info).Description)
}

func TestExtractRoomInfo_IgnoresBadOccupantCount(t *testing.T) {
	for _, bad := range []string{"lots", "-3", ""} {
		info := roomInfoResult(nil, FormField{Var: FieldRoomOccupants, Values: []string{bad}})
		assert.Nil(t, ExtractRoomInfo(info).NUsers, "value %q", bad)
	}
}

func TestExtractRoomInfo_NoFormStillHasIdentityName(t *testing.T) {
	info := &Info{
		Identities: []Identity{{Category: "conference", Type: "text", Name: "Bare Room"}},
		Features:   []string{FeatureMUC},
	}
	ri := ExtractRoomInfo(info)
	assert.Equal(t, "Bare Room", ri.Name)
	assert.Nil(t, ri.NUsers)
}

func TestConditionOf_UnwrapsNestedErrors(t *testing.T) {
	base := NewError(ConditionItemNotFound, "no such node")
	wrapped := fmt.Errorf("probing address: %w", base)

	condition, ok := ConditionOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ConditionItemNotFound, condition)
	assert.True(t, IsAddressGone(wrapped))
	assert.False(t, IsAccessDenied(wrapped))
}

func TestConditionOf_PlainError(t *testing.T) {
	_, ok := ConditionOf(errors.New("timeout"))
	assert.False(t, ok)
	assert.False(t, IsAddressGone(errors.New("timeout")))
}

func TestNewError_AssignsCanonicalType(t *testing.T) {
	assert.Equal(t, ErrorTypeModify, NewError(ConditionBadRequest, "").Type)
	assert.Equal(t, ErrorTypeModify, NewError(ConditionPolicyViolation, "").Type)
	assert.Equal(t, ErrorTypeWait, NewError(ConditionInternalServerError, "").Type)
	assert.Equal(t, ErrorTypeCancel, NewError(ConditionFeatureNotImplemented, "").Type)
	assert.Equal(t, ErrorTypeAuth, NewError(ConditionForbidden, "").Type)
}
