package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cognitosrp "github.com/alexrudd/cognito-srp/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	identitytypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
)

// idpAPI is the subset of the Cognito user pool client in use.
type idpAPI interface {
	InitiateAuth(ctx context.Context, in *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in *cognitoidentityprovider.RespondToAuthChallengeInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RespondToAuthChallengeOutput, error)
}

// identityAPI is the subset of the Cognito identity pool client in use.
type identityAPI interface {
	GetId(ctx context.Context, in *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

// CognitoProvider implements Provider against AWS Cognito.
type CognitoProvider struct {
	idp            idpAPI
	identity       identityAPI
	region         string
	userPoolID     string
	clientID       string
	identityPoolID string
	now            func() time.Time
}

// NewCognitoProvider builds a provider using anonymous (unsigned) Cognito
// clients; the user pool and identity pool APIs used here need no AWS keys.
func NewCognitoProvider(cfg config.CloudConfig, httpClient *http.Client) *CognitoProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	idp := cognitoidentityprovider.New(cognitoidentityprovider.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  httpClient,
	})
	identity := cognitoidentity.New(cognitoidentity.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  httpClient,
	})

	return &CognitoProvider{
		idp:            idp,
		identity:       identity,
		region:         cfg.Region,
		userPoolID:     cfg.UserPoolID,
		clientID:       cfg.ClientID,
		identityPoolID: cfg.IdentityPoolID,
		now:            time.Now,
	}
}

// SignIn runs USER_SRP_AUTH followed by the PASSWORD_VERIFIER challenge.
func (p *CognitoProvider) SignIn(ctx context.Context, username, password string) (Session, error) {
	csrp, err := cognitosrp.NewCognitoSRP(username, password, p.userPoolID, p.clientID, nil)
	if err != nil {
		return Session{}, fmt.Errorf("%w: preparing srp: %w", ErrAuth, err)
	}

	out, err := p.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       idptypes.AuthFlowTypeUserSrpAuth,
		ClientId:       aws.String(csrp.GetClientId()),
		AuthParameters: csrp.GetAuthParams(),
	})
	if err != nil {
		return Session{}, classify("initiating auth", err)
	}
	if out.ChallengeName != idptypes.ChallengeNameTypePasswordVerifier {
		return Session{}, fmt.Errorf("%w: unsupported challenge %q", ErrAuth, out.ChallengeName)
	}

	responses, err := csrp.PasswordVerifierChallenge(out.ChallengeParameters, p.now())
	if err != nil {
		return Session{}, fmt.Errorf("%w: computing password verifier: %w", ErrAuth, err)
	}

	resp, err := p.idp.RespondToAuthChallenge(ctx, &cognitoidentityprovider.RespondToAuthChallengeInput{
		ChallengeName:      idptypes.ChallengeNameTypePasswordVerifier,
		ChallengeResponses: responses,
		ClientId:           aws.String(csrp.GetClientId()),
	})
	if err != nil {
		return Session{}, classify("answering password verifier", err)
	}
	return p.sessionFrom(resp.AuthenticationResult, "")
}

// Refresh runs REFRESH_TOKEN_AUTH.
func (p *CognitoProvider) Refresh(ctx context.Context, s Session) (Session, error) {
	if s.RefreshToken == "" {
		return Session{}, fmt.Errorf("%w: no refresh token", ErrNotAuthenticated)
	}

	out, err := p.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       idptypes.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: map[string]string{"REFRESH_TOKEN": s.RefreshToken},
	})
	if err != nil {
		return Session{}, classify("refreshing token", err)
	}
	return p.sessionFrom(out.AuthenticationResult, s.RefreshToken)
}

// Exchange calls GetId then GetCredentialsForIdentity on the identity pool.
func (p *CognitoProvider) Exchange(ctx context.Context, idToken string) (aws.Credentials, error) {
	logins := map[string]string{p.LoginsKey(): idToken}

	id, err := p.identity.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(p.identityPoolID),
		Logins:         logins,
	})
	if err != nil {
		return aws.Credentials{}, classify("getting identity id", err)
	}

	out, err := p.identity.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: id.IdentityId,
		Logins:     logins,
	})
	if err != nil {
		return aws.Credentials{}, classify("getting identity credentials", err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("%w: empty identity credentials", ErrTransient)
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "CognitoIdentity",
	}
	if out.Credentials.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *out.Credentials.Expiration
	}
	return creds, nil
}

// LoginsKey is the identity pool login provider name for the user pool.
func (p *CognitoProvider) LoginsKey() string {
	return fmt.Sprintf("cognito-idp.%s.amazonaws.com/%s", p.region, p.userPoolID)
}

func (p *CognitoProvider) sessionFrom(res *idptypes.AuthenticationResultType, refreshToken string) (Session, error) {
	if res == nil || aws.ToString(res.IdToken) == "" {
		return Session{}, fmt.Errorf("%w: missing authentication result", ErrTransient)
	}

	s := Session{
		IDToken:      aws.ToString(res.IdToken),
		AccessToken:  aws.ToString(res.AccessToken),
		RefreshToken: aws.ToString(res.RefreshToken),
	}
	if s.RefreshToken == "" {
		s.RefreshToken = refreshToken
	}
	if res.ExpiresIn > 0 {
		s.Expiry = p.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	return s, nil
}

// classify maps Cognito errors onto ErrAuth or ErrTransient.
func classify(op string, err error) error {
	var (
		notAuthorized *idptypes.NotAuthorizedException
		userNotFound  *idptypes.UserNotFoundException
		resetRequired *idptypes.PasswordResetRequiredException
		notConfirmed  *idptypes.UserNotConfirmedException
		idNotAuth     *identitytypes.NotAuthorizedException
	)
	switch {
	case errors.As(err, &notAuthorized),
		errors.As(err, &userNotFound),
		errors.As(err, &resetRequired),
		errors.As(err, &notConfirmed),
		errors.As(err, &idNotAuth):
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
}
