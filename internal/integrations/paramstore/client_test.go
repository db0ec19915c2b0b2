package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func outWithValue(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p"), Value: aws.String(v)}}
}

func TestGetParameter_ResolvesUnderPrefixAndDecrypts(t *testing.T) {
	api := &fakeAPI{getOut: outWithValue(`{"token":"k"}`)}
	client, err := New(api, "/talk-pdf/")
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), "gemini-api-key")
	require.NoError(t, err)
	require.Equal(t, `{"token":"k"}`, v)
	require.Equal(t, "/talk-pdf/gemini-api-key", aws.ToString(api.lastIn.Name))
	require.True(t, aws.ToBool(api.lastIn.WithDecryption))
}

func TestResolve(t *testing.T) {
	c, err := New(&fakeAPI{}, "/talk-pdf")
	require.NoError(t, err)
	require.Equal(t, "/talk-pdf/x", c.Resolve("x"))
	require.Equal(t, "/abs/x", c.Resolve("/abs/x"))

	bare, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	require.Equal(t, "x", bare.Resolve("x"))
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")}, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
