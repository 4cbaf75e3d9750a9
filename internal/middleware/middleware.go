package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/config"
	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
)

// Context keys for storing caller information
const (
	ContextKeyCaller = "caller"
	ContextKeyClaims = "claims"
)

// Claims represents JWT claims. Address is the caller's wallet account.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// JWTAuthenticator handles JWT token validation
type JWTAuthenticator struct {
	config *config.JWTConfig
}

// NewJWTAuthenticator creates a new JWT authenticator
func NewJWTAuthenticator(cfg *config.JWTConfig) *JWTAuthenticator {
	return &JWTAuthenticator{
		config: cfg,
	}
}

// IssueToken signs an access token for address
func (j *JWTAuthenticator) IssueToken(address models.Address) (string, error) {
	now := time.Now()
	expiry := j.config.AccessTokenExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	claims := &Claims{
		Address: address.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "access",
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.config.Secret))
}

// JWTAuth creates a middleware that validates JWT tokens from the Authorization header
// and sets the caller address in the context
func (j *JWTAuthenticator) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		tokenString, err := extractBearerToken(authHeader)
		if err != nil {
			respondWithError(c, apierrors.ErrInvalidCredentialsError)
			c.Abort()
			return
		}

		claims, err := j.ValidateAccessToken(tokenString)
		if err != nil {
			logging.LogSecurityEvent("token_rejected", "", c.ClientIP(), logging.SanitizeForLog(err.Error(), 200))
			if errors.Is(err, ErrTokenExpired) {
				respondWithError(c, apierrors.ErrTokenExpiredError)
			} else {
				respondWithError(c, apierrors.ErrInvalidCredentialsError)
			}
			c.Abort()
			return
		}

		caller, err := models.ParseAddress(claims.Address)
		if err != nil || caller.IsZero() {
			respondWithError(c, apierrors.ErrInvalidCredentialsError)
			c.Abort()
			return
		}

		c.Set(ContextKeyCaller, caller.String())
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// ValidateAccessToken validates an access token and returns claims
func (j *JWTAuthenticator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := j.validateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Subject != "access" {
		return nil, ErrInvalidToken
	}
	if j.config.Issuer != "" && claims.Issuer != j.config.Issuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// validateToken parses and validates a JWT token
func (j *JWTAuthenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.config.Secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// extractBearerToken extracts the token from a Bearer authorization header
func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) == len(bearerPrefix) {
		return "", ErrInvalidToken
	}
	return authHeader[len(bearerPrefix):], nil
}

// JWT validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	reqID := GetRequestIDFromContext(c)
	corrID := GetCorrelationIDFromContext(c)
	if corrID == "" {
		corrID = reqID
	}

	response := apierrors.NewErrorResponse(
		err,
		reqID,
		corrID,
		c.Request.URL.Path,
		c.Request.Method,
	)

	c.JSON(err.HTTPStatus, response)
}

// RoleChecker reports ledger role membership
type RoleChecker interface {
	HasRole(role access.Role, account models.Address) bool
}

// RequireRole rejects callers that hold none of roles on the given ledger.
// The ledger checks again on every call; this only fails fast at the edge.
// Must be used after JWTAuth.
func RequireRole(gate RoleChecker, roles ...access.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := GetCallerFromContext(c)
		if caller.IsZero() {
			respondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		for _, role := range roles {
			if gate.HasRole(role, caller) {
				c.Next()
				return
			}
		}

		logging.LogSecurityEvent("role_denied", caller.String(), c.ClientIP(),
			fmt.Sprintf("%s %s requires %v", c.Request.Method, c.FullPath(), roles))
		respondWithError(c, apierrors.ErrForbiddenError.WithMessage(
			fmt.Sprintf("Access denied. Required role: %v", roles)))
		c.Abort()
	}
}

// RequireAdmin is a convenience middleware that requires the admin role
func RequireAdmin(gate RoleChecker) gin.HandlerFunc {
	return RequireRole(gate, access.RoleAdmin)
}

// GetCallerFromContext extracts the caller address from the gin context
// Returns the empty address if not found
func GetCallerFromContext(c *gin.Context) models.Address {
	return models.Address(c.GetString(ContextKeyCaller))
}

// GetClaimsFromContext extracts the full claims from the gin context
// Returns nil if not found
func GetClaimsFromContext(c *gin.Context) *Claims {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CorrelationID adds a correlation ID for distributed tracing. An upstream
// X-Correlation-ID is kept; otherwise the request ID is reused.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = c.GetString("request_id")
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// GetCorrelationIDFromContext extracts the correlation ID from the gin context
func GetCorrelationIDFromContext(c *gin.Context) string {
	return c.GetString("correlation_id")
}

// GetRequestIDFromContext extracts the request ID from the gin context
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString("request_id")
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Correlation-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Correlation-ID")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
