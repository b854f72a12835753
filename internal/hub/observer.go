package hub

import (
	"context"
	"encoding/json"
	"fmt"
)

func (h *Hub) handleSubscribeRoute(_ context.Context, c *Conn, data json.RawMessage) error {
	var in routeIn
	if err := h.decode(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return h.subscribe(c, RouteGroup(string(in.RouteID)))
}

func (h *Hub) handleSubscribeVehicle(_ context.Context, c *Conn, data json.RawMessage) error {
	var in vehicleIn
	if err := h.decode(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return h.subscribe(c, VehicleGroup(string(in.VehicleID)))
}

func (h *Hub) handleUnsubscribeRoute(_ context.Context, c *Conn, data json.RawMessage) error {
	var in routeIn
	if err := h.decode(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return h.unsubscribe(c, RouteGroup(string(in.RouteID)))
}

func (h *Hub) handleUnsubscribeVehicle(_ context.Context, c *Conn, data json.RawMessage) error {
	var in vehicleIn
	if err := h.decode(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return h.unsubscribe(c, VehicleGroup(string(in.VehicleID)))
}

func (h *Hub) subscribe(c *Conn, group string) error {
	h.rooms.Join(c, group)
	h.logger.Debug("joined group", "conn_id", c.ID, "group", group)
	return c.Emit(EventSubscribed, subscriptionOut{Group: group})
}

func (h *Hub) unsubscribe(c *Conn, group string) error {
	h.rooms.Leave(c, group)
	h.logger.Debug("left group", "conn_id", c.ID, "group", group)
	return c.Emit(EventUnsubscribed, subscriptionOut{Group: group})
}
