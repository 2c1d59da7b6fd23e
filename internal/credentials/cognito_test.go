package credentials

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	identitytypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

type fakeIDP struct {
	initiateIn  *cognitoidentityprovider.InitiateAuthInput
	initiateOut *cognitoidentityprovider.InitiateAuthOutput
	initiateErr error
}

func (f *fakeIDP) InitiateAuth(_ context.Context, in *cognitoidentityprovider.InitiateAuthInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.initiateIn = in
	return f.initiateOut, f.initiateErr
}

func (f *fakeIDP) RespondToAuthChallenge(context.Context, *cognitoidentityprovider.RespondToAuthChallengeInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RespondToAuthChallengeOutput, error) {
	return nil, errors.New("unexpected RespondToAuthChallenge")
}

type fakeIdentity struct {
	getIDIn   *cognitoidentity.GetIdInput
	credsIn   *cognitoidentity.GetCredentialsForIdentityInput
	getIDErr  error
	expiresAt time.Time
}

func (f *fakeIdentity) GetId(_ context.Context, in *cognitoidentity.GetIdInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	f.getIDIn = in
	if f.getIDErr != nil {
		return nil, f.getIDErr
	}
	return &cognitoidentity.GetIdOutput{IdentityId: aws.String("us-west-2:identity-1")}, nil
}

func (f *fakeIdentity) GetCredentialsForIdentity(_ context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error) {
	f.credsIn = in
	return &cognitoidentity.GetCredentialsForIdentityOutput{
		IdentityId: in.IdentityId,
		Credentials: &identitytypes.Credentials{
			AccessKeyId:  aws.String("AKID"),
			SecretKey:    aws.String("SECRET"),
			SessionToken: aws.String("TOKEN"),
			Expiration:   aws.Time(f.expiresAt),
		},
	}, nil
}

func newTestProvider(idp idpAPI, identity identityAPI, now time.Time) *CognitoProvider {
	return &CognitoProvider{
		idp:            idp,
		identity:       identity,
		region:         testRegion,
		userPoolID:     testPool,
		clientID:       testClientID,
		identityPoolID: "us-west-2:pool-guid",
		now:            func() time.Time { return now },
	}
}

func TestCognitoProvider_LoginsKey(t *testing.T) {
	p := newTestProvider(nil, nil, time.Now())
	want := "cognito-idp.us-west-2.amazonaws.com/us-west-2_testpool"
	if got := p.LoginsKey(); got != want {
		t.Errorf("LoginsKey() = %q, want %q", got, want)
	}
}

func TestCognitoProvider_Refresh(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	idp := &fakeIDP{initiateOut: &cognitoidentityprovider.InitiateAuthOutput{
		AuthenticationResult: &idptypes.AuthenticationResultType{
			IdToken:     aws.String("new-id"),
			AccessToken: aws.String("new-access"),
			ExpiresIn:   3600,
		},
	}}
	p := newTestProvider(idp, nil, now)

	s, err := p.Refresh(context.Background(), Session{RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if idp.initiateIn.AuthFlow != idptypes.AuthFlowTypeRefreshTokenAuth {
		t.Errorf("AuthFlow = %v, want REFRESH_TOKEN_AUTH", idp.initiateIn.AuthFlow)
	}
	if idp.initiateIn.AuthParameters["REFRESH_TOKEN"] != "rt" {
		t.Errorf("REFRESH_TOKEN = %q, want rt", idp.initiateIn.AuthParameters["REFRESH_TOKEN"])
	}
	if s.IDToken != "new-id" || s.RefreshToken != "rt" {
		t.Errorf("Refresh() = %+v, want new-id with refresh token kept", s)
	}
	if !s.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("Expiry = %v, want %v", s.Expiry, now.Add(time.Hour))
	}
}

func TestCognitoProvider_RefreshWithoutToken(t *testing.T) {
	p := newTestProvider(&fakeIDP{}, nil, time.Now())
	if _, err := p.Refresh(context.Background(), Session{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Refresh() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestCognitoProvider_SignInUnsupportedChallenge(t *testing.T) {
	idp := &fakeIDP{initiateOut: &cognitoidentityprovider.InitiateAuthOutput{
		ChallengeName: idptypes.ChallengeNameTypeNewPasswordRequired,
	}}
	p := newTestProvider(idp, nil, time.Now())

	_, err := p.SignIn(context.Background(), "user@example.com", "pw")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("SignIn() error = %v, want ErrAuth", err)
	}
	if idp.initiateIn.AuthFlow != idptypes.AuthFlowTypeUserSrpAuth {
		t.Errorf("AuthFlow = %v, want USER_SRP_AUTH", idp.initiateIn.AuthFlow)
	}
	if idp.initiateIn.AuthParameters["USERNAME"] != "user@example.com" {
		t.Errorf("USERNAME = %q, want user@example.com", idp.initiateIn.AuthParameters["USERNAME"])
	}
}

func TestCognitoProvider_Exchange(t *testing.T) {
	exp := time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	identity := &fakeIdentity{expiresAt: exp}
	p := newTestProvider(nil, identity, time.Now())

	creds, err := p.Exchange(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if got := identity.getIDIn.Logins[p.LoginsKey()]; got != "id-token" {
		t.Errorf("GetId logins = %q, want id-token", got)
	}
	if aws.ToString(identity.getIDIn.IdentityPoolId) != "us-west-2:pool-guid" {
		t.Errorf("IdentityPoolId = %q", aws.ToString(identity.getIDIn.IdentityPoolId))
	}
	if aws.ToString(identity.credsIn.IdentityId) != "us-west-2:identity-1" {
		t.Errorf("IdentityId = %q", aws.ToString(identity.credsIn.IdentityId))
	}
	if creds.AccessKeyID != "AKID" || creds.SecretAccessKey != "SECRET" || creds.SessionToken != "TOKEN" {
		t.Errorf("Exchange() = %+v", creds)
	}
	if !creds.CanExpire || !creds.Expires.Equal(exp) {
		t.Errorf("Expires = %v (CanExpire %v), want %v", creds.Expires, creds.CanExpire, exp)
	}
}

func TestCognitoProvider_ExchangeRejected(t *testing.T) {
	identity := &fakeIdentity{getIDErr: &identitytypes.NotAuthorizedException{Message: aws.String("Invalid login token")}}
	p := newTestProvider(nil, identity, time.Now())

	if _, err := p.Exchange(context.Background(), "bad"); !errors.Is(err, ErrAuth) {
		t.Errorf("Exchange() error = %v, want ErrAuth", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not authorized", &idptypes.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}, ErrAuth},
		{"user not found", &idptypes.UserNotFoundException{}, ErrAuth},
		{"reset required", &idptypes.PasswordResetRequiredException{}, ErrAuth},
		{"wrapped", fmt.Errorf("operation error: %w", &idptypes.NotAuthorizedException{}), ErrAuth},
		{"throttled", &idptypes.TooManyRequestsException{}, ErrTransient},
		{"network", errors.New("dial tcp: connection refused"), ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classify() = %v, does not wrap the cause", got)
			}
		})
	}
}
