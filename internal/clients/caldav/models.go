package caldav

// Calendar is a calendar collection found on the server
type Calendar struct {
	Path        string
	DisplayName string
	Description string
}
