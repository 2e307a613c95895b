// Package main runs a dev backend for the tracker: the active journeys and
// vehicles snapshot endpoints plus a websocket push channel that emits
// vehicleUpdate frames and the occasional emergencyAlert. With REDIS_URL set
// the same frames are also published on the redis channel.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleettrack/internal/channel"
	"fleettrack/internal/model"
)

type fleet struct {
	mu       sync.Mutex
	journeys []model.TrackedJourney
	rng      *rand.Rand
}

func newFleet(n int) *fleet {
	f := &fleet{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for i := 1; i <= n; i++ {
		stops := make([]model.Stop, 5)
		for s := range stops {
			eta := time.Now().Add(time.Duration(s*10-5) * time.Minute).UTC()
			stops[s] = model.Stop{
				ID:               fmt.Sprintf("s%d-%d", i, s),
				Seq:              s,
				Location:         &model.GeoPoint{Lat: 41 + float64(i)*0.01, Lng: 29 + float64(s)*0.01},
				EstimatedArrival: &eta,
			}
		}
		f.journeys = append(f.journeys, model.TrackedJourney{
			ID:           fmt.Sprint(i),
			Status:       model.StatusInProgress,
			DriverID:     fmt.Sprintf("d%d", i),
			DriverName:   fmt.Sprintf("Driver %d", i),
			VehicleID:    fmt.Sprintf("v%d", i),
			VehiclePlate: fmt.Sprintf("34 DEV %03d", i),
			Stops:        stops,
			TotalStops:   len(stops),
			Location:     &model.Location{Lat: 41 + float64(i)*0.01, Lng: 29, ObservedAt: time.Now().UTC()},
		})
	}
	return f
}

// step moves one random journey and returns its vehicleUpdate payload.
func (f *fleet) step() (json.RawMessage, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &f.journeys[f.rng.Intn(len(f.journeys))]
	loc := *j.Location
	loc.Lat += (f.rng.Float64() - 0.5) * 0.002
	loc.Lng += f.rng.Float64() * 0.002
	loc.Speed = 20 + f.rng.Float64()*40
	loc.Heading = f.rng.Float64() * 360
	loc.ObservedAt = time.Now().UTC()
	j.Location = &loc
	if f.rng.Intn(10) == 0 && j.CurrentStopIndex < len(j.Stops)-1 {
		j.Stops[j.CurrentStopIndex].Completed = true
		j.CurrentStopIndex++
		j.CompletedStops++
	}
	b, _ := json.Marshal(map[string]any{
		"journeyId":        j.ID,
		"location":         loc,
		"currentStopIndex": j.CurrentStopIndex,
	})
	return b, j.ID
}

func (f *fleet) alert(id string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.journeys {
		if j.ID == id {
			b, _ := json.Marshal(map[string]any{
				"journeyId": j.ID,
				"vehicleId": j.VehicleID,
				"driverId":  j.DriverID,
				"message":   "panic button pressed",
				"location":  j.Location.Point(),
				"timestamp": time.Now().UTC(),
				"severity":  "critical",
			})
			return b
		}
	}
	return nil
}

func (f *fleet) snapshot() []model.TrackedJourney {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.TrackedJourney, len(f.journeys))
	for i := range f.journeys {
		out[i] = f.journeys[i].Clone()
	}
	return out
}

func (f *fleet) vehicles() []model.ActiveVehicle {
	var out []model.ActiveVehicle
	for _, j := range f.snapshot() {
		p := j.Location.Point()
		out = append(out, model.ActiveVehicle{
			VehicleID: j.VehicleID, Plate: j.VehiclePlate, DriverID: j.DriverID,
			DriverName: j.DriverName, JourneyID: j.ID, Location: &p, UpdatedAt: j.Location.ObservedAt,
		})
	}
	return out
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func serveChannel(f *fleet, frames <-chan channel.Envelope) http.HandlerFunc {
	var (
		mu    sync.Mutex
		conns = map[*websocket.Conn]*sync.Mutex{}
	)
	go func() {
		for env := range frames {
			mu.Lock()
			for c, wmu := range conns {
				wmu.Lock()
				_ = c.WriteJSON(env)
				wmu.Unlock()
			}
			mu.Unlock()
		}
	}()
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		wmu := &sync.Mutex{}
		write := func(v any) {
			wmu.Lock()
			defer wmu.Unlock()
			_ = c.WriteJSON(v)
		}
		log.Printf("channel: client %s (auth %q)", r.RemoteAddr, r.Header.Get("Authorization"))
		for {
			var m channel.Envelope
			if err := c.ReadJSON(&m); err != nil {
				mu.Lock()
				delete(conns, c)
				mu.Unlock()
				return
			}
			switch m.Type {
			case "connection_init":
				write(channel.Envelope{Type: "connection_ack"})
			case "ping":
				write(channel.Envelope{Type: "pong"})
			case "join":
				log.Printf("channel: join %s", string(m.Payload))
				mu.Lock()
				conns[c] = wmu
				mu.Unlock()
			case "leave":
				log.Printf("channel: leave %s", string(m.Payload))
				mu.Lock()
				delete(conns, c)
				mu.Unlock()
			}
		}
	}
}

func writeList(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	f := newFleet(5)
	frames := make(chan channel.Envelope, 64)

	var redis *channel.RedisTransport
	if url := os.Getenv("REDIS_URL"); url != "" {
		var err error
		if redis, err = channel.NewRedisTransport(url); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer func() { _ = redis.Close() }()
	}
	workspace := os.Getenv("WORKSPACE_ID")
	if workspace == "" {
		workspace = "demo"
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for n := 1; ; n++ {
			<-ticker.C
			payload, id := f.step()
			out := []channel.Envelope{{Type: channel.EventVehicleUpdate, Payload: payload}}
			if n%30 == 0 {
				out = append(out, channel.Envelope{Type: channel.EventEmergencyAlert, Payload: f.alert(id)})
			}
			for _, env := range out {
				frames <- env
				if redis != nil {
					if err := redis.Publish(context.Background(), workspace, env); err != nil {
						log.Printf("redis publish: %v", err)
					}
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tracking/ws", serveChannel(f, frames))
	mux.HandleFunc("/v1/workspaces/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/journeys/active"):
			writeList(w, f.snapshot())
		case strings.HasSuffix(r.URL.Path, "/vehicles/active"):
			writeList(w, f.vehicles())
		default:
			http.NotFound(w, r)
		}
	})
	log.Printf("fake channel listening on :%s (ws path /v1/tracking/ws)", port)
	log.Fatal(http.ListenAndServe(":"+port, mux))
}
