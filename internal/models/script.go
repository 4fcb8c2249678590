package models

// EditScript is the declarative edit applied by `curator apply`.
// Every section is optional; an empty script is a no-op save.
type EditScript struct {
	// Attribute changes. Nil pointers mean "leave unchanged"; empty
	// strings clear the field.
	Title       *string `yaml:"title,omitempty"`
	Description *string `yaml:"description,omitempty"`
	StartDate   *string `yaml:"start_date,omitempty"`
	EndDate     *string `yaml:"end_date,omitempty"`
	PublishedAt *string `yaml:"published_at,omitempty"`

	// Files to upload and attach, relative to the script's --dir.
	AddFiles []string `yaml:"add_files,omitempty"`

	// Remote images to download and attach alongside AddFiles.
	AddURLs []string `yaml:"add_urls,omitempty"`

	// Asset ids to mark for deletion.
	DeleteAssets []string `yaml:"delete_assets,omitempty"`

	// Full asset-id order to apply after additions and deletions.
	Order []string `yaml:"order,omitempty"`

	// Replacement primary image file, uploaded alongside AddFiles.
	PrimaryImage string `yaml:"primary_image,omitempty"`
}
