package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "File Manager API",
        "description": "Authenticated file storage with catalog/storage reconciliation",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Account registration and token issuance"},
        {"name": "Files", "description": "File storage, reconciliation and sync"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Register a new account",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Username already registered"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange credentials for an access token",
                "responses": {
                    "200": {"description": "Token issued"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/files": {
            "get": {
                "tags": ["Files"],
                "summary": "List files merged from storage and catalog",
                "parameters": [
                    {"name": "skip", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Merged listing with admin_active meta"}
                }
            }
        },
        "/api/v1/files/upload": {
            "post": {
                "tags": ["Files"],
                "summary": "Upload a file into storage and register it",
                "consumes": ["multipart/form-data"],
                "responses": {
                    "201": {"description": "Created"},
                    "413": {"description": "File too large"}
                }
            }
        },
        "/api/v1/files/download/{id}": {
            "get": {
                "tags": ["Files"],
                "summary": "Download a file by catalog id or temp id",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "404": {"description": "Not found"},
                    "409": {"description": "Registered but missing in storage"}
                }
            }
        },
        "/api/v1/files/download-multiple": {
            "get": {
                "tags": ["Files"],
                "summary": "Download several files as one zip archive",
                "parameters": [
                    {"name": "ids", "in": "query", "required": true, "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"}
                ],
                "responses": {
                    "200": {"description": "Zip stream; unresolvable ids are skipped"}
                }
            }
        },
        "/api/v1/files/register": {
            "post": {
                "tags": ["Files"],
                "summary": "Register an existing storage file in the catalog",
                "parameters": [
                    {"name": "path", "in": "query", "required": true, "type": "string"},
                    {"name": "filename", "in": "query", "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "404": {"description": "File not found in storage"},
                    "409": {"description": "File already registered"}
                }
            }
        },
        "/api/v1/files/register-all": {
            "post": {
                "tags": ["Files"],
                "summary": "Register every unregistered storage file (admin)",
                "responses": {
                    "200": {"description": "Count and identities created"}
                }
            }
        },
        "/api/v1/files/admin/sync": {
            "post": {
                "tags": ["Files"],
                "summary": "Synchronise one pushed file against the catalog (admin)",
                "consumes": ["multipart/form-data"],
                "responses": {
                    "200": {"description": "added, updated or skipped"}
                }
            }
        },
        "/api/v1/files/admin/cleanup": {
            "post": {
                "tags": ["Files"],
                "summary": "Delete catalog rows whose storage file is gone (admin)",
                "responses": {
                    "200": {"description": "Deleted count"}
                }
            }
        },
        "/api/v1/files/admin/import": {
            "post": {
                "tags": ["Files"],
                "summary": "Import a pushed file without content comparison (admin)",
                "consumes": ["multipart/form-data"],
                "responses": {
                    "200": {"description": "imported or skipped"}
                }
            }
        },
        "/api/v1/files/admin/hashes": {
            "get": {
                "tags": ["Files"],
                "summary": "Map of registered path to content hash (admin)",
                "responses": {
                    "200": {"description": "Path to hash map"}
                }
            }
        },
        "/api/v1/files/admin/stats": {
            "get": {
                "tags": ["Files"],
                "summary": "Content store statistics (admin)",
                "responses": {
                    "200": {"description": "Totals and storage path"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "File Manager API",
	Description:      "Authenticated file storage with catalog/storage reconciliation",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
