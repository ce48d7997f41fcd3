package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a Telegram user known to the exchange. Users are created
// on first interaction and never updated or deleted.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Username  string             `bson:"username" json:"username"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// NewUser creates a user record for a Telegram identity.
func NewUser(userID, username string) *User {
	return &User{
		UserID:    strings.TrimSpace(userID),
		Username:  strings.TrimSpace(username),
		CreatedAt: time.Now().UTC(),
	}
}

// Validate validates the user data.
func (u *User) Validate() error {
	if u.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	return nil
}
