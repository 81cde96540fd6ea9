// Package docs registers the mock server's Swagger document with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        },
        "/api/v1/images/upload": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["images"],
                "summary": "Upload an image",
                "parameters": [
                    {"type": "file", "description": "Image file", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImageUploadResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/images/info/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["images"],
                "summary": "Image metadata",
                "parameters": [
                    {"type": "string", "description": "Image id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImageInfo"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/segmentation/algorithms": {
            "get": {
                "produces": ["application/json"],
                "tags": ["segmentation"],
                "summary": "Algorithm catalog",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.AlgorithmsListResponse"}}
                }
            }
        },
        "/api/v1/segmentation/segment": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["segmentation"],
                "summary": "Run a segmentation",
                "parameters": [
                    {"description": "Request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.SegmentationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SegmentationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/segmentation/batch": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["segmentation"],
                "summary": "Run several segmentations",
                "parameters": [
                    {"description": "Requests (at most 10)", "name": "requests", "in": "body", "required": true, "schema": {"type": "array", "items": {"$ref": "#/definitions/types.SegmentationRequest"}}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.BatchSegmentationResponse"}}
                }
            }
        },
        "/api/v1/segmentation/results/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["segmentation"],
                "summary": "Stored results, newest first",
                "parameters": [
                    {"type": "integer", "default": 50, "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ResultHistoryPage"}}
                }
            }
        },
        "/api/v1/segmentation/list": {
            "get": {
                "produces": ["application/json"],
                "tags": ["segmentation"],
                "summary": "Uploaded images, newest first",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImageListPage"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 404},
                "detail": {"type": "string", "example": "Image not found"}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "version": {"type": "string"},
                "timestamp": {"type": "integer"}
            }
        },
        "types.ImageInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "filename": {"type": "string"},
                "original_filename": {"type": "string"},
                "url": {"type": "string", "example": "/static/uploads/0b7c2f1e.png"},
                "content_type": {"type": "string", "example": "image/png"},
                "size": {"type": "integer"},
                "dimensions": {"type": "array", "items": {"type": "integer"}},
                "created_at": {"type": "string"}
            }
        },
        "types.ImageUploadResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "image": {"$ref": "#/definitions/types.ImageInfo"},
                "message": {"type": "string", "example": "Image uploaded successfully"}
            }
        },
        "types.ImageListPage": {
            "type": "object",
            "properties": {
                "images": {"type": "array", "items": {"$ref": "#/definitions/types.ImageInfo"}},
                "total_count": {"type": "integer"},
                "offset": {"type": "integer"},
                "limit": {"type": "integer"}
            }
        },
        "types.AlgorithmsListResponse": {
            "type": "object",
            "properties": {
                "algorithms": {"type": "array", "items": {"type": "object"}}
            }
        },
        "types.AlgorithmConfig": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "slic"},
                "display_name": {"type": "string"},
                "parameters": {"type": "object"},
                "is_active": {"type": "boolean"}
            }
        },
        "types.SegmentationRequest": {
            "type": "object",
            "properties": {
                "image_id": {"type": "string"},
                "algorithms": {"type": "array", "items": {"$ref": "#/definitions/types.AlgorithmConfig"}},
                "view_mode": {"type": "string", "enum": ["single", "split", "grid_2x2"]}
            }
        },
        "types.SegmentationResult": {
            "type": "object",
            "properties": {
                "algorithm_name": {"type": "string"},
                "result_image_url": {"type": "string"},
                "segments_count": {"type": "integer"},
                "processing_time": {"type": "number"},
                "parameters_used": {"type": "object"},
                "created_at": {"type": "string"}
            }
        },
        "types.SegmentationResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "original_image_url": {"type": "string"},
                "results": {"type": "array", "items": {"$ref": "#/definitions/types.SegmentationResult"}},
                "view_mode": {"type": "string"},
                "total_processing_time": {"type": "number"},
                "created_at": {"type": "string"}
            }
        },
        "types.BatchSegmentationResponse": {
            "type": "object",
            "properties": {
                "successful_results": {"type": "array", "items": {"$ref": "#/definitions/types.SegmentationResponse"}},
                "errors": {"type": "array", "items": {"type": "object"}},
                "total_requested": {"type": "integer"},
                "successful_count": {"type": "integer"},
                "error_count": {"type": "integer"}
            }
        },
        "types.ResultHistoryPage": {
            "type": "object",
            "properties": {
                "results": {"type": "array", "items": {"$ref": "#/definitions/types.SegmentationResult"}},
                "total_count": {"type": "integer"},
                "offset": {"type": "integer"},
                "limit": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "segmock API",
	Description:      "Fake image segmentation backend for exercising segclient.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
