package emulators

type ImageContainer struct {
	EmulatorImage string
	EmulatorPort  string
}

type GCImageContainer struct {
	ImageContainer
	ProjectID string
}
