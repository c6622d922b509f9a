package handlers

import (
	"encoding/json"
	"net/http"
)

func jsonBody(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func sceneResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Scene"},
			},
			"application/x-msgpack": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Scene"},
			},
		},
	}
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Error"},
			},
		},
	}
}

var viewIDParam = map[string]interface{}{
	"name":     "id",
	"in":       "path",
	"required": true,
	"schema":   map[string]string{"type": "string", "format": "uuid"},
}

var formatParam = map[string]interface{}{
	"name":        "format",
	"in":          "query",
	"description": "Response encoding; msgpack selects MessagePack",
	"required":    false,
	"schema":      map[string]interface{}{"type": "string", "enum": []string{"json", "msgpack"}},
}

var pageParam = map[string]interface{}{
	"name":     "page",
	"in":       "query",
	"required": false,
	"schema":   map[string]interface{}{"type": "integer", "minimum": 1, "default": 1},
}

var limitParam = map[string]interface{}{
	"name":     "limit",
	"in":       "query",
	"required": false,
	"schema":   map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 1000, "default": 100},
}

// OpenAPISpec returns the OpenAPI 3.0 specification of the map view API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	viewParams := []map[string]interface{}{viewIDParam, formatParam}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Temperature Map API",
			"description": "Interactive temperature world map: region selection, point search and time-series playback",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/views": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Mount a map view",
					"description": "Creates a view with its own selection, hover, search and playback state",
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "View mounted; body holds id and scene"},
						"503": errorResponse("Too many mounted views"),
					},
				},
			},
			"/api/views/{id}": map[string]interface{}{
				"delete": map[string]interface{}{
					"summary":    "Unmount a map view",
					"parameters": []map[string]interface{}{viewIDParam},
					"responses": map[string]interface{}{
						"204": map[string]interface{}{"description": "View unmounted"},
						"404": errorResponse("View not found"),
					},
				},
			},
			"/api/views/{id}/scene": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Current scene of a view",
					"parameters": viewParams,
					"responses": map[string]interface{}{
						"200": sceneResponse("Current scene"),
						"404": errorResponse("View not found"),
					},
				},
			},
			"/api/views/{id}/geometry": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Region outlines",
					"description": "GeoJSON FeatureCollection with code and name properties",
					"parameters":  viewParams,
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "FeatureCollection"},
						"409": errorResponse("Map data failed to load"),
					},
				},
			},
			"/api/views/{id}/hover": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Hover a region",
					"parameters":  viewParams,
					"requestBody": jsonBody(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"code": map[string]string{"type": "string"}}}),
					"responses": map[string]interface{}{
						"200": sceneResponse("Scene with tooltip"),
						"404": errorResponse("Region not found"),
					},
				},
				"delete": map[string]interface{}{
					"summary":    "End hover",
					"parameters": viewParams,
					"responses": map[string]interface{}{
						"200": sceneResponse("Scene without tooltip"),
					},
				},
			},
			"/api/views/{id}/points/hover": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Hover a city marker",
					"parameters": viewParams,
					"requestBody": jsonBody(map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"lat": map[string]string{"type": "number"},
							"lon": map[string]string{"type": "number"},
						},
					}),
					"responses": map[string]interface{}{
						"200": sceneResponse("Scene with point tooltip"),
						"404": errorResponse("Point not found"),
						"409": errorResponse("Point data failed to load"),
					},
				},
			},
			"/api/views/{id}/click": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Toggle the selection of a region",
					"description": "Regions without temperature data are ignored",
					"parameters":  viewParams,
					"requestBody": jsonBody(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"code": map[string]string{"type": "string"}}}),
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "added, changed and scene"},
						"404": errorResponse("Region not found"),
					},
				},
			},
			"/api/views/{id}/selection/{code}": map[string]interface{}{
				"delete": map[string]interface{}{
					"summary":     "Dismiss a selected region",
					"description": "Idempotent; removing an absent code is a no-op",
					"parameters": []map[string]interface{}{
						viewIDParam,
						{"name": "code", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "removed and scene"},
					},
				},
			},
			"/api/views/{id}/playback": map[string]interface{}{
				"put": map[string]interface{}{
					"summary":     "Move the time slider",
					"description": "The index is clamped to the available frames",
					"parameters":  viewParams,
					"requestBody": jsonBody(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"index": map[string]string{"type": "integer"}}}),
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "changed and scene"},
						"409": errorResponse("Time series failed to load"),
					},
				},
			},
			"/api/views/{id}/search": map[string]interface{}{
				"put": map[string]interface{}{
					"summary":     "Search city markers",
					"description": "Case-insensitive substring match; a blank query resets every marker",
					"parameters":  viewParams,
					"requestBody": jsonBody(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"query": map[string]string{"type": "string"}}}),
					"responses": map[string]interface{}{
						"200": sceneResponse("Scene with classified markers"),
						"409": errorResponse("Point data failed to load"),
					},
				},
			},
			"/api/dataset": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Dataset summary",
					"parameters": []map[string]interface{}{formatParam},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Counts, time range and temperature statistics"},
						"503": errorResponse("Map data failed to load"),
					},
				},
			},
			"/api/catalog/countries": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Stored country temperatures",
					"description": "Country averages written by the ingester. Available when the database is enabled.",
					"parameters":  []map[string]interface{}{pageParam, limitParam, formatParam},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Paginated country temperatures"},
						"500": errorResponse("Database error"),
					},
				},
			},
			"/api/catalog/countries/{code}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Stored temperature of one country",
					"parameters": []map[string]interface{}{
						{"name": "code", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
						formatParam,
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Country temperature"},
						"404": errorResponse("Country not stored"),
					},
				},
			},
			"/api/catalog/countries/{code}/series": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Stored per-frame temperatures of one country",
					"description": "Frames in timestamp order. from and to are inclusive timestamp bounds.",
					"parameters": []map[string]interface{}{
						{"name": "code", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
						{"name": "from", "in": "query", "required": false, "schema": map[string]string{"type": "string"}},
						{"name": "to", "in": "query", "required": false, "schema": map[string]string{"type": "string"}},
						formatParam,
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Country series"},
						"404": errorResponse("No series stored for the country"),
						"500": errorResponse("Database error"),
					},
				},
			},
			"/api/catalog/stations": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Stored stations",
					"parameters": []map[string]interface{}{
						{"name": "q", "in": "query", "required": false, "description": "Case-insensitive name substring", "schema": map[string]string{"type": "string"}},
						pageParam, limitParam, formatParam,
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Paginated stations"},
						"500": errorResponse("Database error"),
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Healthy or degraded"},
						"503": map[string]interface{}{"description": "A dependency is unreachable"},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
				"Scene": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"revision":    map[string]string{"type": "integer"},
						"regions":     map[string]string{"type": "array"},
						"heat":        map[string]string{"type": "array"},
						"markers":     map[string]string{"type": "array"},
						"selection":   map[string]string{"type": "array"},
						"legend":      map[string]string{"type": "object"},
						"heat_legend": map[string]string{"type": "object"},
						"tooltip":     map[string]string{"type": "object"},
						"playback":    map[string]string{"type": "object"},
						"status":      map[string]string{"type": "object"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
