package auth

import (
	"crypto/md5" // #nosec G501: gravatar addresses are keyed by MD5 of the email.
	"encoding/hex"
	"fmt"
	"strings"
)

// gravatarURL builds the default avatar for a fresh registration. The
// user can replace it later through the avatar endpoint.
func gravatarURL(email string) string {
	hash := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?d=identicon&s=250", hex.EncodeToString(hash[:]))
}
