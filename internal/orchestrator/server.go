package orchestrator

import (
	"encoding/json"
	"fmt"
)

// Server is one entry of an orchestrator's server list. The payload is kept
// opaque so unknown upstream fields survive caching and relaying.
type Server map[string]any

// UID returns the "{game_uid}.{servername}" identity used by grants and the cache.
func (s Server) UID() string {
	return ServerUID(stringField(s, "game_uid"), stringField(s, "servername"))
}

// JSON encodes the server payload for the snapshot cache.
func (s Server) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// ServerUID joins a game uid and server name into a server identity.
func ServerUID(gameUID, serverName string) string {
	return gameUID + "." + serverName
}

func stringField(m map[string]any, key string) string {
	switch value := m[key].(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}
