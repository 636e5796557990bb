package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// booking-sim drives the booking service the way the app would: list the
// slot grid for a doctor and date, then book the first available slot.
func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8081"), "booking service base url")
		doctorID = flag.String("doctor-id", getenv("DOCTOR_ID", ""), "doctor to book with")
		patient  = flag.String("patient-id", getenv("PATIENT_ID", ""), "patient identity header")
		date     = flag.String("date", time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"), "date to book (YYYY-MM-DD)")
		reason   = flag.String("reason", "checkup", "visit reason")
		dryRun   = flag.Bool("dry-run", false, "list slots without booking")
	)
	flag.Parse()

	if strings.TrimSpace(*doctorID) == "" {
		fatal("DOCTOR_ID is required")
	}
	if strings.TrimSpace(*patient) == "" {
		*patient = uuid.NewString()
		fmt.Printf("no PATIENT_ID given, using %s\n", *patient)
	}

	slots, err := fetchSlots(*baseURL, *doctorID, *date)
	if err != nil {
		fatal(err.Error())
	}
	if len(slots) == 0 {
		fatal("no slots on " + *date + "; does the doctor have a window for that weekday?")
	}

	var pick *slot
	for i := range slots {
		marker := " "
		if slots[i].Available {
			marker = "*"
			if pick == nil {
				pick = &slots[i]
			}
		}
		fmt.Printf("%s %s - %s\n", marker, slots[i].StartTime, slots[i].EndTime)
	}
	if *dryRun {
		return
	}
	if pick == nil {
		fatal("every slot on " + *date + " is taken")
	}

	id, err := book(*baseURL, *patient, *doctorID, pick, *reason)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("booked appointment %s at %s\n", id, pick.StartTime)
}

type slot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

func fetchSlots(baseURL, doctorID, date string) ([]slot, error) {
	q := url.Values{}
	q.Set("doctor_id", doctorID)
	q.Set("date", date)
	resp, err := http.Get(strings.TrimRight(baseURL, "/") + "/api/v1/public/slots?" + q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slots returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var slots []slot
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func book(baseURL, patientID, doctorID string, s *slot, reason string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"doctor_id":  doctorID,
		"start_time": s.StartTime,
		"end_time":   s.EndTime,
		"reason":     reason,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/public/book", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Patient-Id", patientID)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("book returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.AppointmentID, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
