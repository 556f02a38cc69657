package api

import (
	"net/http"
	"strconv"

	"github.com/javanstorm/vmctl/internal/vm"
)

func (s *Server) healthz(r *HTTPRequest) error {
	return r.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// listMachines serves GET /machines. Stopped machines are included with
// ?all or ?all=true.
func (s *Server) listMachines(r *HTTPRequest) error {
	all := false
	q := r.Request.URL.Query()
	if q.Has("all") {
		v := q.Get("all")
		if v == "" {
			all = true
		} else {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return &vm.ValidationError{Field: "all", Message: "must be a boolean", Err: err}
			}
			all = b
		}
	}

	machines, err := s.mgr.ListInstances(r.Request.Context(), all)
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, machines)
}

func (s *Server) createMachine(r *HTTPRequest) error {
	var p vm.Params
	if err := r.Decode(&p); err != nil {
		return err
	}
	m, err := s.mgr.CreateInstance(r.Request.Context(), p)
	if err != nil {
		return err
	}
	return r.JSON(http.StatusCreated, m)
}

func (s *Server) getMachine(r *HTTPRequest) error {
	m, err := s.mgr.GetInstanceState(r.Request.Context(), r.Parameter("id"))
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, m)
}

func (s *Server) deleteMachine(r *HTTPRequest) error {
	if err := s.mgr.DeleteInstance(r.Request.Context(), r.Parameter("id")); err != nil {
		return err
	}
	r.ResponseWriter.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) startMachine(r *HTTPRequest) error {
	var p vm.Params
	if err := r.Decode(&p); err != nil {
		return err
	}
	m, err := s.mgr.StartInstance(r.Request.Context(), r.Parameter("id"), p)
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, m)
}

func (s *Server) stopMachine(r *HTTPRequest) error {
	m, err := s.mgr.StopInstance(r.Request.Context(), r.Parameter("id"))
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, m)
}

func (s *Server) restartMachine(r *HTTPRequest) error {
	var p vm.Params
	if err := r.Decode(&p); err != nil {
		return err
	}
	m, err := s.mgr.RestartInstance(r.Request.Context(), r.Parameter("id"), p)
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, m)
}

func (s *Server) listVolumes(r *HTTPRequest) error {
	vols, err := s.mgr.ListVolumes(r.Request.Context())
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, vols)
}

// getVolume serves GET /volumes/{id}; id may also name a machine.
func (s *Server) getVolume(r *HTTPRequest) error {
	v, err := s.mgr.GetVolume(r.Request.Context(), r.Parameter("id"))
	if err != nil {
		return err
	}
	return r.JSON(http.StatusOK, v)
}
