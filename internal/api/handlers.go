package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/appointment"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return parseUUID(w, chi.URLParam(r, "id"), "id")
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func listSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var specialtyID *uuid.UUID
		if raw := r.URL.Query().Get("specialty_id"); raw != "" {
			id, ok := parseUUID(w, raw, "specialty_id")
			if !ok {
				return
			}
			specialtyID = &id
		}

		var date *time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := appointment.ParseDate(raw)
			if err != nil {
				handleServiceError(w, err)
				return
			}
			date = &d
		}

		slots, err := svc.ListAvailableSlots(r.Context(), specialtyID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func createSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		specialtyID, ok := parseUUID(w, req.SpecialtyID, "specialty_id")
		if !ok {
			return
		}
		date, err := appointment.ParseDate(req.Date)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		start, err := appointment.ParseTimeOfDay(req.StartTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		end, err := appointment.ParseTimeOfDay(req.EndTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		slot, err := svc.CreateSlotBlock(r.Context(), actorFrom(r), appointment.CreateSlotBlockInput{
			SpecialtyID:     specialtyID,
			Date:            date,
			Start:           start,
			End:             end,
			DurationMinutes: req.DurationMinutes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func approveSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		slot, err := svc.ApproveSlotBlock(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func deleteSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteSlotBlock(r.Context(), actorFrom(r), id); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listSlotAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		list, err := svc.ListAppointmentsBySlot(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(list))
	}
}

func createAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slotID, ok := parseUUID(w, req.SlotID, "slot_id")
		if !ok {
			return
		}
		var patientID uuid.UUID
		if req.PatientID != "" {
			if patientID, ok = parseUUID(w, req.PatientID, "patient_id"); !ok {
				return
			}
		}

		appt, err := svc.RequestAppointment(r.Context(), actorFrom(r), appointment.RequestAppointmentInput{
			PatientID: patientID,
			SlotID:    slotID,
			Reason:    req.Reason,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)
		patientID := actor.ID
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			id, ok := parseUUID(w, raw, "patient_id")
			if !ok {
				return
			}
			patientID = id
		}
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset")
		if !ok {
			return
		}

		list, err := svc.ListAppointmentsByPatient(r.Context(), actor, patientID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(list))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req StaffRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		staffID, ok := parseUUID(w, req.StaffID, "staff_id")
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), actorFrom(r), id, staffID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req CompleteRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.Complete(r.Context(), actorFrom(r), id, req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		res, err := svc.CancelAppointment(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelResponse{
			Appointment:      toAppointmentResponse(res.Appointment),
			CapacityReleased: res.CapacityReleased,
			PenaltyLogged:    res.Penalty != nil,
			DaysBefore:       res.DaysBefore,
		})
	}
}

func reassignStaffHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req StaffRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		staffID, ok := parseUUID(w, req.StaffID, "staff_id")
		if !ok {
			return
		}

		appt, err := svc.ReassignStaff(r.Context(), actorFrom(r), id, staffID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func reprogramAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req ReprogramRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		slotID, ok := parseUUID(w, req.SlotID, "slot_id")
		if !ok {
			return
		}

		res, err := svc.ReprogramInstitutional(r.Context(), actorFrom(r), id, slotID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ReprogramResponse{
			Original:    toAppointmentResponse(res.Original),
			Rescheduled: toAppointmentResponse(res.Rescheduled),
		})
	}
}

func listPenaltiesHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		list, err := svc.ListPenalties(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]PenaltyResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toPenaltyResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
