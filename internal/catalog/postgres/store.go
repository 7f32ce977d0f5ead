package postgres

// Store bundles the account and skin repositories into a single
// catalog.Store, the shape cmd/server wires into the generation engine.
type Store struct {
	*AccountRepo
	*SkinRepo
}

// NewStore constructs a Store over a shared DB handle.
func NewStore(db *DB, errorThreshold int) *Store {
	return &Store{
		AccountRepo: NewAccountRepo(db, errorThreshold),
		SkinRepo:    NewSkinRepo(db),
	}
}
