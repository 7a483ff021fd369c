package server

// @title appmanager Device API
// @version 2.0
// @description Target state and reconciliation control for the applications running on this device

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:48484
// @BasePath /
// @schemes http
