package capabilities

// GitCapability represents the git executable used to stage modules
type GitCapability struct {
	binary  string
	version string
}

// NewGitCapability creates a new Git capability
func NewGitCapability(binary string) *GitCapability {
	if binary == "" {
		binary = "git"
	}
	return &GitCapability{
		binary:  binary,
		version: "2.35", // Default version
	}
}

// Name returns the name of the capability
func (c *GitCapability) Name() string {
	return CapabilityGit
}

// Version returns the version of the capability
func (c *GitCapability) Version() string {
	return c.version
}

// Binary returns the executable path used for git commands
func (c *GitCapability) Binary() string {
	return c.binary
}

// IsAvailable checks if Git is available on the system
func (c *GitCapability) IsAvailable() bool {
	v, ok := detectVersion(c.binary, "git version")
	if !ok {
		return false
	}
	if v != "" {
		c.version = v
	}
	return true
}
