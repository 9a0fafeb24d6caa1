package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
)

type CognitoClient interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
}

// Tokens is the opaque token bundle returned to the client on login.
type Tokens struct {
	AccessToken  string `json:"AccessToken,omitempty"`
	IdToken      string `json:"IdToken,omitempty"`
	RefreshToken string `json:"RefreshToken,omitempty"`
	TokenType    string `json:"TokenType,omitempty"`
	ExpiresIn    int32  `json:"ExpiresIn,omitempty"`
}

type Cognito struct {
	client       CognitoClient
	clientID     string
	clientSecret string
}

func NewCognito(client CognitoClient, clientID, clientSecret string) *Cognito {
	return &Cognito{
		client:       client,
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
	}
}

// Login runs the USER_PASSWORD_AUTH flow.
func (c *Cognito) Login(ctx context.Context, username, password string) (*Tokens, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, apperr.New(apperr.InvalidInput, apperr.StageAuth, "username and password are required", nil)
	}
	if c.clientID == "" {
		return nil, apperr.New(apperr.NotConfigured, apperr.StageAuth, "COGNITO_CLIENT_ID not set", nil)
	}

	authParams := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if h := c.secretHash(username); h != "" {
		authParams["SECRET_HASH"] = h
	}

	out, err := c.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(c.clientID),
		AuthParameters: authParams,
	})
	if err != nil {
		return nil, authFailed("initiate auth", err)
	}
	if out.AuthenticationResult == nil {
		// MFA, NEW_PASSWORD_REQUIRED and friends are not handled here.
		logger.From(ctx).Info("login requires challenge", zap.String("challenge", string(out.ChallengeName)))
		return nil, apperr.New(apperr.AuthFailed, apperr.StageAuth,
			"unsupported challenge "+string(out.ChallengeName), nil)
	}

	r := out.AuthenticationResult
	return &Tokens{
		AccessToken:  aws.ToString(r.AccessToken),
		IdToken:      aws.ToString(r.IdToken),
		RefreshToken: aws.ToString(r.RefreshToken),
		TokenType:    aws.ToString(r.TokenType),
		ExpiresIn:    r.ExpiresIn,
	}, nil
}

// Register signs a user up with an email attribute. The user must confirm
// with the emailed code before logging in.
func (c *Cognito) Register(ctx context.Context, username, password, email string) error {
	if strings.TrimSpace(username) == "" || password == "" || strings.TrimSpace(email) == "" {
		return apperr.New(apperr.InvalidInput, apperr.StageAuth, "username, password and email are required", nil)
	}
	if c.clientID == "" {
		return apperr.New(apperr.NotConfigured, apperr.StageAuth, "COGNITO_CLIENT_ID not set", nil)
	}

	in := &cip.SignUpInput{
		ClientId: aws.String(c.clientID),
		Username: aws.String(username),
		Password: aws.String(password),
		UserAttributes: []ciptypes.AttributeType{
			{Name: aws.String("email"), Value: aws.String(strings.TrimSpace(email))},
		},
	}
	if h := c.secretHash(username); h != "" {
		in.SecretHash = aws.String(h)
	}

	if _, err := c.client.SignUp(ctx, in); err != nil {
		return authFailed("sign up", err)
	}
	return nil
}

func (c *Cognito) Confirm(ctx context.Context, username, code string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(code) == "" {
		return apperr.New(apperr.InvalidInput, apperr.StageAuth, "username and code are required", nil)
	}
	if c.clientID == "" {
		return apperr.New(apperr.NotConfigured, apperr.StageAuth, "COGNITO_CLIENT_ID not set", nil)
	}

	in := &cip.ConfirmSignUpInput{
		ClientId:         aws.String(c.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(strings.TrimSpace(code)),
	}
	if h := c.secretHash(username); h != "" {
		in.SecretHash = aws.String(h)
	}

	if _, err := c.client.ConfirmSignUp(ctx, in); err != nil {
		return authFailed("confirm sign up", err)
	}
	return nil
}

// secretHash is base64(HMAC-SHA256(clientSecret, username+clientID)), or ""
// for app clients without a secret.
func (c *Cognito) secretHash(username string) string {
	if c.clientSecret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(username + c.clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func authFailed(op string, err error) error {
	if apperr.IsTimeout(err) {
		return apperr.New(apperr.Timeout, apperr.StageAuth, "cognito "+op+" timed out", err)
	}
	return apperr.New(apperr.AuthFailed, apperr.StageAuth, "cognito "+op, err)
}
