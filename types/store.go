package types

// LocalStore persists the session token and a few UI dismissal flags.
// It is read at boot, written on user actions, and never synced across
// devices.
type LocalStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

type LocalStoreCreator func(config *StoreConfig) (LocalStore, error)

// Well-known local store keys.
const (
	StoreKeySessionToken    = "session.token"
	StoreKeyFirstOpenShown  = "flags.first_open_shown"
	StoreKeyInstallDismiss  = "flags.install_prompt_dismissed"
)
