// Package docs registers the OpenAPI document of the audiodoc server.
//
// audiodoc API
//
//	@title			audiodoc API
//	@version		1.0
//	@description	Turns PDFs and text into narrated, word-highlighted videos.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/audiodoc
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:5001
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/audiodoc/serve.go -o . --parseDependency --parseInternal
