package domain

import "errors"

// --- ERREURS DU DOMAINE ---
var (
	// ErrSourceUnavailable : la requête vers la source de vérité a échoué.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrNotFound : aucune ligne pour cet identifiant. Jamais mis en cache.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable : le cache est injoignable. Ne sort jamais du coordinateur.
	ErrStoreUnavailable = errors.New("cache store unavailable")

	ErrInvalidScope    = errors.New("invalid feed scope")
	ErrInvalidFilter   = errors.New("invalid feed filter")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnknownEvent    = errors.New("unknown change event")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("authentication required")
)
