package outbox

const deliveryLocationUpdatedSchema = `{
  "type": "object",
  "title": "DeliveryLocationUpdated",
  "properties": {
    "delivery_id": {"type": "string"},
    "transporter_id": {"type": "string"},
    "latitude": {"type": "number", "minimum": -90, "maximum": 90},
    "longitude": {"type": "number", "minimum": -180, "maximum": 180},
    "recorded_at": {"type": "string", "format": "date-time"}
  },
  "required": ["delivery_id", "transporter_id", "latitude", "longitude", "recorded_at"],
  "additionalProperties": false
}`
