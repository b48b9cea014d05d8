package tear_down

// TearDownCommand removes everything the run created
type TearDownCommand struct {
	// KeepLocal leaves local scratch paths in place.
	KeepLocal bool
}

// Name returns the name of the command
func (c TearDownCommand) Name() string {
	return "TearDown"
}
