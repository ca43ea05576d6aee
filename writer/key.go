package writer

import "github.com/google/uuid"

// GenerateKey mints a local writer's public-key-shaped identity when no
// persisted identity exists yet. A real deployment would use a proper
// keypair; this stands in for "public key" within the scope of this
// repository's local-only transport (spec §6.B).
func GenerateKey() string {
	return uuid.New().String()
}
