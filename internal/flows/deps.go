package flows

// Deps groups flow dependency sets. The Engine builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Admission    AdmissionDeps
	Login        LoginDeps
	Authenticate AuthenticateDeps
	Refresh      RefreshDeps
	Logout       LogoutDeps
}
