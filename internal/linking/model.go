package linking

import "time"

// AuthorizationCode is a single-use code handed to the assistant after sign-in.
type AuthorizationCode struct {
	Code             string `gorm:"column:code;primaryKey;size:128" json:"code"`
	UserID           string `gorm:"column:user_id;not null;index" json:"user_id"`
	State            string `gorm:"column:state;not null;default:''" json:"state"`
	RedirectURI      string `gorm:"column:redirect_uri;not null;default:''" json:"redirect_uri"`
	Used             bool   `gorm:"column:used;not null;default:false" json:"used"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;index" json:"expires_at_s"`
	UsedAtSeconds    int64  `gorm:"column:used_at_s;not null;default:0" json:"used_at_s"`
}

// TableName binds the model to authorization_codes.
func (AuthorizationCode) TableName() string {
	return "authorization_codes"
}

// Expired reports whether the code can no longer be exchanged at now.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAtSeconds
}

// TokenBinding maps an issued bearer token to the user it represents.
type TokenBinding struct {
	Token            string `gorm:"column:token;primaryKey;size:128" json:"token"`
	UserID           string `gorm:"column:user_id;not null;index" json:"user_id"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName binds the model to token_map.
func (TokenBinding) TableName() string {
	return "token_map"
}
