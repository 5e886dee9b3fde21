package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/jackzampolin/audiodoc"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness check",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}}}
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check including the job store",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Detailed server status",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/api/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs, newest first",
                "parameters": [
                    {"type": "string", "description": "Comma-separated statuses", "name": "status", "in": "query"},
                    {"type": "integer", "description": "Maximum results (default 100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Accepts a PDF upload (multipart field \"file\") or text (multipart field or JSON body).",
                "consumes": ["multipart/form-data", "application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Submit a narration job",
                "parameters": [
                    {"type": "file", "description": "PDF document", "name": "file", "in": "formData"},
                    {"type": "string", "description": "Text to narrate", "name": "text", "in": "formData"},
                    {"type": "string", "description": "Background video id (random when empty)", "name": "video", "in": "formData"},
                    {"type": "string", "description": "Background music id or none", "name": "music", "in": "formData"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/endpoints.SubmitJobResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get a job record",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["jobs"],
                "summary": "Cancel and delete a job with its narration",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/jobs/{id}/status": {
            "get": {
                "description": "Returns the pipeline status; completed jobs include the narration result.",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Job status",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.JobStatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/jobs/{id}/audio": {
            "get": {
                "produces": ["audio/mpeg"],
                "tags": ["jobs"],
                "summary": "Download the narration audio",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/jobs/{id}/captions.vtt": {
            "get": {
                "produces": ["text/vtt"],
                "tags": ["jobs"],
                "summary": "WebVTT captions built from the word timing",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/catalog": {
            "get": {
                "produces": ["application/json"],
                "tags": ["media"],
                "summary": "List background videos and music",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/api/voices": {
            "get": {
                "produces": ["application/json"],
                "tags": ["media"],
                "summary": "List narration voices",
                "parameters": [
                    {"type": "string", "description": "Speech provider (default: defaults.tts_provider)", "name": "provider", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/media/{kind}/{id}": {
            "get": {
                "tags": ["media"],
                "summary": "Serve a catalog video or music file",
                "parameters": [
                    {"type": "string", "description": "video or music", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "description": "Catalog id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "endpoints.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "endpoints.HealthResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "store": {"type": "string"}}
        },
        "endpoints.SubmitJobResponse": {
            "type": "object",
            "properties": {"job_id": {"type": "string"}, "status": {"type": "string"}}
        },
        "endpoints.JobStatusResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "error": {"type": "string"},
                "result": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:5001",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "audiodoc API",
	Description:      "Turns PDFs and text into narrated, word-highlighted videos.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
